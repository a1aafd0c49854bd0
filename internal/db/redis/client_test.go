package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"norelock.dev/listenify/providerhost/internal/config"
	"norelock.dev/listenify/providerhost/internal/registry"
	"norelock.dev/listenify/providerhost/internal/utils"
)

func TestFormatKey(t *testing.T) {
	assert.Equal(t, "providerhost:provider_config_yt", FormatKey("providerhost", registry.ConfigKey("yt")))
	assert.Equal(t, "provider_config_yt", FormatKey("", registry.ConfigKey("yt")))
}

func TestNewClientRequiresAddress(t *testing.T) {
	cfg := &config.Config{}
	_, err := NewClient(cfg, utils.NewNopLogger())
	require.Error(t, err)
}

func TestConfigStoreImplementsRegistryStore(t *testing.T) {
	var _ registry.ConfigStore = (*ConfigStore)(nil)
}
