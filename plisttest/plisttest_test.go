package plisttest_test

import (
	"context"
	"testing"

	"github.com/danderson/plist"
	"github.com/danderson/plist/plisttest"
)

func TestService(t *testing.T) {
	svc := plisttest.New(t, plist.Options{})
	svc.Handle(1, plist.KindString, func(ctx context.Context, req plist.Value) (plist.Value, error) {
		return plist.Retain(req), nil
	})

	c := svc.MustClient(t, plist.Options{})
	req := plist.NewString("ping")
	defer plist.Release(req)
	resp, err := c.Call(context.Background(), 1, req, plist.KindString)
	if err != nil {
		t.Fatalf("calling test service: %v", err)
	}
	defer plist.Release(resp)
	if !plist.Equal(resp, req) {
		t.Fatalf("got reply %v, want %v", resp, req)
	}
}
