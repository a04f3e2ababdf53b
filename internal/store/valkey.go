package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/valkey-io/valkey-go"

	appLog "elvcal/internal/log"
)

// Valkey stores values as plain strings under "<prefix>:<key>".
type Valkey struct {
	client valkey.Client
	prefix string
}

// NewValkey connects to addr (host:port, or a redis:// / valkey:// URL)
// and pings it.
func NewValkey(ctx context.Context, addr, prefix string) (*Valkey, error) {
	opt, err := valkeyOptions(addr)
	if err != nil {
		return nil, err
	}
	client, err := valkey.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("store: valkey client: %w", err)
	}
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("store: valkey ping: %w", err)
	}
	appLog.Info("valkey store enabled", "addr", opt.InitAddress, "prefix", prefix)
	return NewValkeyWithClient(client, prefix), nil
}

// NewValkeyWithClient wraps an existing client.
func NewValkeyWithClient(client valkey.Client, prefix string) *Valkey {
	if prefix == "" {
		prefix = "elvcal"
	}
	return &Valkey{client: client, prefix: prefix}
}

func valkeyOptions(addr string) (valkey.ClientOption, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return valkey.ClientOption{}, errors.New("store: valkey backend needs an addr")
	}
	if strings.Contains(addr, "://") {
		opt, err := valkey.ParseURL(addr)
		if err != nil {
			return valkey.ClientOption{}, fmt.Errorf("store: parse valkey url: %w", err)
		}
		return opt, nil
	}
	return valkey.ClientOption{InitAddress: []string{addr}}, nil
}

func (v *Valkey) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := v.client.Do(ctx, v.client.B().Get().Key(v.key(key)).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (v *Valkey) Set(ctx context.Context, key string, value []byte) error {
	cmd := v.client.B().Set().Key(v.key(key)).Value(valkey.BinaryString(value)).Build()
	return v.client.Do(ctx, cmd).Error()
}

func (v *Valkey) Close() error {
	v.client.Close()
	return nil
}

func (v *Valkey) key(k string) string {
	return v.prefix + ":" + k
}

var _ Store = (*Valkey)(nil)
