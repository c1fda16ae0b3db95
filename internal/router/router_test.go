package router

import (
	"testing"

	"github.com/Gianluca27/turno-facil-sub000/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestEventStore(t *testing.T) {
	assert.Nil(t, eventStore(&config.Config{}, nil))
	assert.Nil(t, eventStore(&config.Config{KafkaBrokers: " , "}, nil))
	assert.NotNil(t, eventStore(&config.Config{KafkaBrokers: "kafka:9092"}, nil))
}
