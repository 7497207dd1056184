package shared

import (
	"testing"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func TestWriterAcks(t *testing.T) {
	require.Equal(t, kafka.RequireAll, writerAcks("all"))
	require.Equal(t, kafka.RequireAll, writerAcks(" -1 "))
	require.Equal(t, kafka.RequireNone, writerAcks("none"))
	require.Equal(t, kafka.RequireNone, writerAcks("0"))
	require.Equal(t, kafka.RequireOne, writerAcks("1"))
	require.Equal(t, kafka.RequireOne, writerAcks("anything-else"))
}
