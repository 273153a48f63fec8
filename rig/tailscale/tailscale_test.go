package tailscale

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/swdunlop/wasmrig-go/rig"
	"tailscale.com/ipn/ipnstate"
)

func TestURL(t *testing.T) {
	status := &ipnstate.Status{Self: &ipnstate.PeerStatus{DNSName: `mygame.tailnet-1234.ts.net.`}}
	assert.Equal(t, `https://mygame.tailnet-1234.ts.net/`, URL(status, true))
	assert.Equal(t, `http://mygame.tailnet-1234.ts.net/`, URL(status, false))
	assert.Equal(t, ``, URL(&ipnstate.Status{}, true))
}

func TestRigOptions(t *testing.T) {
	_, err := rig.New(Rig(`:443`, Funnel(), NoTLS()))
	assert.Error(t, err)

	_, err = rig.New(Rig(``))
	assert.Error(t, err)

	_, err = rig.New(Rig(`:80`, NoTLS(), Hostname(`mygame`), Dir(t.TempDir())))
	assert.NoError(t, err)
}
