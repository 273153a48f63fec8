package local

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swdunlop/wasmrig-go/rig"
)

func TestRigRequiresAddress(t *testing.T) {
	_, err := rig.New(Rig())
	assert.Error(t, err)
	_, err = rig.New(Rig(Listen(`tcp`, ``)))
	assert.Error(t, err)
	_, err = rig.New(Rig(TCP(`localhost:4000`)))
	assert.NoError(t, err)
}

func TestListenReady(t *testing.T) {
	var ready net.Addr
	var cfg config
	for _, option := range []Option{TCP(`127.0.0.1:0`), Ready(func(addr net.Addr) { ready = addr })} {
		require.NoError(t, option(&cfg))
	}
	lr, err := cfg.Listen(context.Background())
	require.NoError(t, err)
	defer lr.Close()
	assert.Equal(t, lr.Addr(), ready)
}
