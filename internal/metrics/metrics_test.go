package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	MessagesTotal.WithLabelValues("push", "sent").Inc()
	if got := testutil.ToFloat64(MessagesTotal.WithLabelValues("push", "sent")); got < 1 {
		t.Fatalf("expected counter to be incremented, got %v", got)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected duplicate registration to panic")
		}
	}()
	Register(reg)
}
