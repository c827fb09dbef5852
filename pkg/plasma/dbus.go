package plasma

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

// NativeClient calls evaluateScript over the session bus without a helper
// binary.
type NativeClient struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

// DialNative connects to the session bus and pings the Plasma shell.
func DialNative(ctx context.Context) (*NativeClient, error) {
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	obj := conn.Object(Service, dbus.ObjectPath(Path))
	if err := obj.CallWithContext(ctx, "org.freedesktop.DBus.Peer.Ping", 0).Err; err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s: %w", Service, err)
	}
	return &NativeClient{conn: conn, obj: obj}, nil
}

func (c *NativeClient) Name() string { return "godbus" }

func (c *NativeClient) Evaluate(ctx context.Context, script string) (string, error) {
	var out string
	if err := c.obj.CallWithContext(ctx, Method, 0, script).Store(&out); err != nil {
		return "", fmt.Errorf("evaluate script via session bus: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (c *NativeClient) Close() error {
	return c.conn.Close()
}
