package main

import (
	"bytes"
	"cmp"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/creachadair/mds/heapq"
	"github.com/danderson/plist"
	"golang.org/x/sys/unix"
)

type indenter struct {
	prefix     string
	indentNext bool
}

func (i *indenter) f(msg string, args ...any) {
	fmt.Fprintf(i, msg+"\n", args...)
}

func (i *indenter) Write(bs []byte) (int, error) {
	ret := 0
	for len(bs) > 0 {
		if i.indentNext {
			i.indentNext = false
			_, err := io.WriteString(os.Stdout, i.prefix)
			if err != nil {
				return ret, err
			}
		}

		wr := bs
		idx := bytes.IndexByte(bs, '\n')
		if idx >= 0 {
			i.indentNext = true
			wr, bs = bs[:idx+1], bs[idx+1:]
		} else {
			bs = nil
		}

		n, err := os.Stdout.Write(wr)
		ret += n
		if err != nil {
			return ret, err
		}
	}
	return ret, nil
}

func (i *indenter) indent(n int) {
	i.prefix = strings.Repeat("  ", n)
}

// tree prints v as an indented outline.
func (i *indenter) tree(label string, v plist.Value) {
	i.treeAt(0, label, v)
}

func (i *indenter) treeAt(depth int, label string, v plist.Value) {
	i.indent(depth)
	if label != "" {
		label += ": "
	}
	switch v := v.(type) {
	case *plist.Array:
		i.f("%sarray (%d)", label, v.Len())
		for idx, e := range v.All() {
			i.treeAt(depth+1, strconv.Itoa(idx), e)
		}
	case *plist.Dict:
		i.f("%sdict (%d)", label, v.Len())
		for _, k := range v.Keys() {
			i.treeAt(depth+1, k, v.Get(k))
		}
	case *plist.Data:
		i.f("%sdata %x", label, v.Bytes())
	default:
		i.f("%s%v", label, v)
	}
}

func printValue(opts plist.Options, v plist.Value) error {
	doc, err := opts.Externalize(v)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(bytes.TrimSuffix(doc, []byte{0}))
	return err
}

// keyPaths returns the slash-separated paths of all keys in d and its
// nested dictionaries, in lexical order.
func keyPaths(d *plist.Dict) []string {
	type entry struct {
		path string
		v    plist.Value
	}
	q := heapq.New(func(a, b entry) int {
		return cmp.Compare(a.path, b.path)
	})
	for k, v := range d.All() {
		q.Add(entry{k, v})
	}
	var ret []string
	for !q.IsEmpty() {
		e, _ := q.Pop()
		ret = append(ret, e.path)
		if sub, ok := e.v.(*plist.Dict); ok {
			for k, v := range sub.All() {
				q.Add(entry{e.path + "/" + k, v})
			}
		}
	}
	return ret
}

// lookup returns the value at the slash-separated path in d, or nil.
// The returned value is borrowed from d.
func lookup(d *plist.Dict, path string) plist.Value {
	parts := strings.Split(path, "/")
	for _, p := range parts[:len(parts)-1] {
		sub, ok := d.Get(p).(*plist.Dict)
		if !ok {
			return nil
		}
		d = sub
	}
	return d.Get(parts[len(parts)-1])
}

// store sets the value at the slash-separated path in d to v,
// creating intermediate dictionaries as needed.
func store(d *plist.Dict, path string, v plist.Value) error {
	parts := strings.Split(path, "/")
	for _, p := range parts[:len(parts)-1] {
		switch sub := d.Get(p).(type) {
		case *plist.Dict:
			d = sub
		case nil:
			nd := plist.NewDict()
			d.Set(p, nd)
			plist.Release(nd)
			d = nd
		default:
			return fmt.Errorf("%s is a %s, not a dictionary", p, sub.Kind())
		}
	}
	d.Set(parts[len(parts)-1], v)
	return nil
}

func parseTyped(typ, val string) (plist.Value, error) {
	switch typ {
	case "bool":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return nil, err
		}
		return plist.NewBool(b), nil
	case "int":
		n, err := strconv.ParseInt(val, 0, 64)
		if err != nil {
			return nil, err
		}
		return plist.NewInt(n), nil
	case "uint":
		n, err := strconv.ParseUint(val, 0, 64)
		if err != nil {
			return nil, err
		}
		return plist.NewUint(n), nil
	case "string":
		return plist.NewString(val), nil
	case "data":
		b, err := hex.DecodeString(val)
		if err != nil {
			return nil, err
		}
		return plist.NewData(b), nil
	}
	return nil, fmt.Errorf("unknown value type %q", typ)
}

func listenUnix(path string) (*net.UnixListener, error) {
	return net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
}

// fileServer serves a property list dictionary stored in a file.
type fileServer struct {
	*plist.Server
	opts plist.Options
	path string

	mu sync.Mutex
}

func newFileServer(opts plist.Options, path string) *fileServer {
	ret := &fileServer{
		Server: plist.NewServer(opts),
		opts:   opts,
		path:   path,
	}
	ret.Handle(cmdGet, plist.KindString, ret.get)
	ret.Handle(cmdSet, plist.KindDictionary, ret.set)
	ret.Handle(cmdKeys, plist.KindUnknown, ret.keys)
	return ret
}

func (s *fileServer) load() (*plist.Dict, error) {
	v, err := s.opts.LoadFile(s.path, plist.KindDictionary)
	if err != nil {
		return nil, err
	}
	return v.(*plist.Dict), nil
}

func (s *fileServer) get(ctx context.Context, req plist.Value) (plist.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.load()
	if err != nil {
		return nil, err
	}
	defer plist.Release(d)
	key := req.(*plist.String).Value()
	v := lookup(d, key)
	if v == nil {
		return nil, unix.ENOENT
	}
	return plist.Retain(v), nil
}

func (s *fileServer) set(ctx context.Context, req plist.Value) (plist.Value, error) {
	if peer, ok := plist.ContextPeer(ctx); ok {
		fmt.Printf("set from pid %d uid %d\n", peer.Pid, peer.Uid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.load()
	if err != nil {
		return nil, err
	}
	defer plist.Release(d)
	for k, v := range req.(*plist.Dict).All() {
		if err := store(d, k, v); err != nil {
			return nil, err
		}
	}
	return nil, plist.SaveFile(s.path, d, plist.XML)
}

func (s *fileServer) keys(ctx context.Context, req plist.Value) (plist.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.load()
	if err != nil {
		return nil, err
	}
	defer plist.Release(d)
	ret := plist.NewArray()
	for _, k := range keyPaths(d) {
		str := plist.NewString(k)
		ret.Append(str)
		plist.Release(str)
	}
	return ret, nil
}
