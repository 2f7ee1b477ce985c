package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServiceConfigDefaultsName(t *testing.T) {
	cfg := serviceConfig("", 8001)
	assert.Equal(t, "aprstx", cfg.Name)
	assert.Equal(t, ServiceType, cfg.Type)
	assert.Equal(t, 8001, cfg.Port)
}

func TestServiceConfigHonoursName(t *testing.T) {
	cfg := serviceConfig("mystation", 8001)
	assert.Equal(t, "mystation", cfg.Name)
}
