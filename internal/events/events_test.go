package events

import (
	"context"
	"testing"
)

func TestMultiFansOutInOrder(t *testing.T) {
	var got []string
	record := func(tag string) Sink {
		return SinkFunc(func(_ context.Context, ev Event) {
			got = append(got, tag+":"+ev.Target)
		})
	}

	m := Multi{record("a"), nil, record("b")}
	m.Emit(context.Background(), Event{Kind: KindCapture, Target: "example"})

	if len(got) != 2 || got[0] != "a:example" || got[1] != "b:example" {
		t.Fatalf("emitted = %v", got)
	}
}

func TestNopIgnoresEvents(t *testing.T) {
	Nop.Emit(context.Background(), Event{Kind: KindChange})
}
