package e2e

import (
	"context"
	"net"
	"sync"
	"testing"

	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
)

// traceCollector is an in-process OTLP/gRPC trace sink the exporter under test
// points at.
type traceCollector struct {
	collectortrace.UnimplementedTraceServiceServer

	mu            sync.Mutex
	resourceSpans []*tracepb.ResourceSpans
	notify        chan struct{}
}

// startTraceCollector serves a collector on a loopback port and returns it
// together with its dial address.
func startTraceCollector(t *testing.T) (*traceCollector, string) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start OTLP listener: %v", err)
	}

	collector := &traceCollector{notify: make(chan struct{}, 1)}

	server := grpc.NewServer()
	collectortrace.RegisterTraceServiceServer(server, collector)

	go func() {
		_ = server.Serve(lis)
	}()

	t.Cleanup(func() {
		server.Stop()
		_ = lis.Close()
	})

	return collector, lis.Addr().String()
}

func (c *traceCollector) Export(_ context.Context, req *collectortrace.ExportTraceServiceRequest) (*collectortrace.ExportTraceServiceResponse, error) {
	c.mu.Lock()
	c.resourceSpans = append(c.resourceSpans, req.ResourceSpans...)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}

	return &collectortrace.ExportTraceServiceResponse{}, nil
}

// WaitForSpans blocks until at least minSpans spans have arrived or the
// context expires, and returns everything received so far.
func (c *traceCollector) WaitForSpans(ctx context.Context, minSpans int) []*tracepb.Span {
	for {
		c.mu.Lock()
		spans := flattenSpans(c.resourceSpans)
		c.mu.Unlock()

		if len(spans) >= minSpans {
			return spans
		}

		select {
		case <-ctx.Done():
			return spans
		case <-c.notify:
		}
	}
}

// ServiceNames returns the distinct resource service.name values seen so far.
func (c *traceCollector) ServiceNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]struct{})
	var names []string
	for _, rs := range c.resourceSpans {
		for _, kv := range rs.GetResource().GetAttributes() {
			if kv.Key != "service.name" {
				continue
			}
			name := kv.GetValue().GetStringValue()
			if _, dup := seen[name]; !dup {
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
	}
	return names
}

func flattenSpans(resSpans []*tracepb.ResourceSpans) []*tracepb.Span {
	var spans []*tracepb.Span
	for _, rs := range resSpans {
		for _, scope := range rs.ScopeSpans {
			spans = append(spans, scope.Spans...)
		}
	}
	return spans
}

// spanAttr returns the attribute value for key, or nil when the span does not
// carry it.
func spanAttr(span *tracepb.Span, key string) *commonpb.AnyValue {
	for _, kv := range span.Attributes {
		if kv.Key == key {
			return kv.Value
		}
	}
	return nil
}
