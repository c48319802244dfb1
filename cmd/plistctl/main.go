package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"regexp"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/mds/slice"
	"github.com/danderson/plist"
	"github.com/kr/pretty"
)

var globalArgs struct {
	Format  string `flag:"format,default=xml,Output format, xml or json"`
	MaxSize int    `flag:"max-size,Ceiling on document sizes read from files and sockets (default: none for files, 128KiB for sockets)"`
}

func options() (plist.Options, error) {
	f, err := plist.ParseFormat(globalArgs.Format)
	if err != nil {
		return plist.Options{}, err
	}
	return plist.Options{
		Format:  f,
		MaxSize: globalArgs.MaxSize,
	}, nil
}

// Commands understood by the serve subcommand.
const (
	cmdGet uint32 = iota + 1
	cmdSet
	cmdKeys
)

func main() {
	root := &command.C{
		Name:     "plistctl",
		Usage:    "command args...",
		SetFlags: command.Flags(flax.MustBind, &globalArgs),
		Commands: []*command.C{
			{
				Name:  "convert",
				Usage: "convert file",
				Help:  "Print a property list file in the format given by --format.",
				Run:   command.Adapt(runConvert),
			},
			{
				Name:  "dump",
				Usage: "dump file",
				Help:  "Print the contents of a property list file as Go values.",
				Run:   command.Adapt(runDump),
			},
			{
				Name:  "keys",
				Usage: "keys file [regexp]",
				Help: `List the keys of a property list file.

Nested dictionaries are walked, and their keys printed as
slash-separated paths. If a regexp is given, only matching paths are
listed.`,
				Run: command.Adapt(runKeys),
			},
			{
				Name:  "get",
				Usage: "get file key",
				Help:  "Print the value at a slash-separated key path.",
				Run:   command.Adapt(runGet),
			},
			{
				Name:  "set",
				Usage: "set file key type value",
				Help: `Set the value at a slash-separated key path.

The file is created if it does not exist, and is replaced atomically.
Intermediate dictionaries are created as needed.

type is one of bool, int, uint, string or data. Data values are given
in hexadecimal.`,
				Run: command.Adapt(runSet),
			},
			{
				Name:  "serve",
				Usage: "serve socket file",
				Help: `Serve a property list file over a Unix socket.

Command 1 takes a string key path and returns the value at that path.
Command 2 takes a dictionary of key paths and values, and sets them.
Command 3 takes any value and returns an array of all key paths.`,
				Run: command.Adapt(runServe),
			},
			{
				Name:  "call",
				Usage: "call socket cmd [file]",
				Help: `Send a request to a property list service, and print the reply.

The request is read from file, or is an empty dictionary if no file is
given.`,
				Run: command.Adapt(runCall),
			},
			command.HelpCommand(nil),
			command.VersionCommand(),
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	env := root.NewEnv(nil).SetContext(ctx)
	command.RunOrFail(env, os.Args[1:])
}

func runConvert(env *command.Env, file string) error {
	opts, err := options()
	if err != nil {
		return err
	}
	v, err := opts.LoadFile(file, plist.KindUnknown)
	if err != nil {
		return err
	}
	defer plist.Release(v)
	return printValue(opts, v)
}

func runDump(env *command.Env, file string) error {
	opts, err := options()
	if err != nil {
		return err
	}
	v, err := opts.LoadFile(file, plist.KindUnknown)
	if err != nil {
		return err
	}
	defer plist.Release(v)
	fmt.Printf("%# v\n", pretty.Formatter(plist.ToGo(v)))
	return nil
}

func runKeys(env *command.Env, file string, filter ...string) error {
	if len(filter) > 1 {
		return env.Usagef("too many arguments")
	}
	opts, err := options()
	if err != nil {
		return err
	}
	v, err := opts.LoadFile(file, plist.KindDictionary)
	if err != nil {
		return err
	}
	defer plist.Release(v)

	ks := keyPaths(v.(*plist.Dict))
	if len(filter) == 1 {
		re, err := regexp.Compile(filter[0])
		if err != nil {
			return err
		}
		ks = slices.Collect(slice.Select(ks, re.MatchString))
	}
	for _, k := range ks {
		fmt.Println(k)
	}
	return nil
}

func runGet(env *command.Env, file, key string) error {
	opts, err := options()
	if err != nil {
		return err
	}
	v, err := opts.LoadFile(file, plist.KindDictionary)
	if err != nil {
		return err
	}
	defer plist.Release(v)

	got := lookup(v.(*plist.Dict), key)
	if got == nil {
		return fmt.Errorf("key %q not found", key)
	}
	var out indenter
	out.tree("", got)
	return nil
}

func runSet(env *command.Env, file, key, typ, val string) error {
	opts, err := options()
	if err != nil {
		return err
	}
	nv, err := parseTyped(typ, val)
	if err != nil {
		return err
	}
	defer plist.Release(nv)

	var d *plist.Dict
	v, err := opts.LoadFile(file, plist.KindDictionary)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		d = plist.NewDict()
	case err != nil:
		return err
	default:
		d = v.(*plist.Dict)
	}
	defer plist.Release(d)

	if err := store(d, key, nv); err != nil {
		return err
	}
	return plist.SaveFile(file, d, plist.XML)
}

func runServe(env *command.Env, sock, file string) error {
	opts, err := options()
	if err != nil {
		return err
	}
	srv := newFileServer(opts, file)
	defer srv.Close()

	if err := os.Remove(sock); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	l, err := listenUnix(sock)
	if err != nil {
		return err
	}
	fmt.Printf("serving %s on %s\n", file, sock)
	err = srv.ServeListener(env.Context(), l)
	fmt.Println("shutdown")
	return err
}

func runCall(env *command.Env, sock, cmdStr string, file ...string) error {
	if len(file) > 1 {
		return env.Usagef("too many arguments")
	}
	opts, err := options()
	if err != nil {
		return err
	}
	cmd, err := strconv.ParseUint(cmdStr, 0, 32)
	if err != nil {
		return fmt.Errorf("invalid command %q: %w", cmdStr, err)
	}

	var req plist.Value
	if len(file) == 1 {
		req, err = opts.LoadFile(file[0], plist.KindUnknown)
		if err != nil {
			return err
		}
	} else {
		req = plist.NewDict()
	}
	defer plist.Release(req)

	ctx, cancel := context.WithTimeout(env.Context(), 30*time.Second)
	defer cancel()
	c, err := plist.Dial(ctx, sock, opts)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", sock, err)
	}
	defer c.Close()

	resp, err := c.Call(ctx, uint32(cmd), req, plist.KindUnknown)
	if err != nil {
		return err
	}
	if resp == nil {
		fmt.Println("ok")
		return nil
	}
	defer plist.Release(resp)
	return printValue(opts, resp)
}
