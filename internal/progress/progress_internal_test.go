package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeliverDroppingStale_KeepsOnlyMostRecentUpdate(t *testing.T) {
	t.Parallel()

	ch := make(chan Update, 1)

	deliverDroppingStale(ch, Update{ProjectID: "p1", Percent: 10})
	deliverDroppingStale(ch, Update{ProjectID: "p1", Percent: 50})
	deliverDroppingStale(ch, Update{ProjectID: "p1", Percent: 90})

	got := <-ch
	assert.Equal(t, 90.0, got.Percent)

	select {
	case <-ch:
		t.Fatal("expected channel to hold only the latest update")
	default:
	}
}

func TestDeliverDroppingStale_DeliversToEmptyChannel(t *testing.T) {
	t.Parallel()

	ch := make(chan Update, 1)

	deliverDroppingStale(ch, Update{ProjectID: "p1", Percent: 25})

	got := <-ch
	assert.Equal(t, 25.0, got.Percent)
}

func TestSubject_BuildsPerProjectTopic(t *testing.T) {
	t.Parallel()

	p := &Publisher{prefix: "archreview.progress"}
	assert.Equal(t, "archreview.progress.proj1", p.subject("proj1"))
}
