package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshrun/meshrun/pkg/models"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cluster-1.db")
	l, err := Open("cluster-1", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAppendAssignsIncreasingSequence(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	m1, err := l.Append(ctx, models.MessageUserInput, "", map[string]any{"a": 1}, nil)
	require.NoError(t, err)
	m2, err := l.Append(ctx, models.MessageAgentOutput, "triage", map[string]any{"a": 2}, nil)
	require.NoError(t, err)

	assert.Greater(t, m2.Sequence, m1.Sequence)
	assert.NotEmpty(t, m1.ID)
	assert.NotEqual(t, m1.ID, m2.ID)
}

func TestAfterReturnsOnlyNewerMessages(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	m1, err := l.Append(ctx, models.MessageUserInput, "", map[string]any{}, nil)
	require.NoError(t, err)
	_, err = l.Append(ctx, models.MessageAgentOutput, "triage", map[string]any{}, nil)
	require.NoError(t, err)

	msgs, err := l.After(ctx, m1.Sequence)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessageAgentOutput, msgs[0].Type)
}

func TestCountByType(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, models.MessageTaskStarted, "triage", map[string]any{}, nil)
	require.NoError(t, err)
	_, err = l.Append(ctx, models.MessageTaskStarted, "triage", map[string]any{}, nil)
	require.NoError(t, err)
	_, err = l.Append(ctx, models.MessageTaskCompleted, "triage", map[string]any{}, nil)
	require.NoError(t, err)

	started, err := l.CountByType(ctx, "triage", models.MessageTaskStarted)
	require.NoError(t, err)
	assert.Equal(t, 2, started)

	completed, err := l.CountByType(ctx, "triage", models.MessageTaskCompleted)
	require.NoError(t, err)
	assert.Equal(t, 1, completed)
}

func TestQueryFiltersByTopicSenderAndLimit(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, models.MessageAgentOutput, "triage", map[string]any{"n": 1}, nil)
	require.NoError(t, err)
	_, err = l.Append(ctx, models.MessageAgentOutput, "responder", map[string]any{"n": 2}, nil)
	require.NoError(t, err)
	_, err = l.Append(ctx, models.MessageAgentOutput, "triage", map[string]any{"n": 3}, nil)
	require.NoError(t, err)

	byTopic, err := l.Query(ctx, Filter{Topic: models.MessageAgentOutput})
	require.NoError(t, err)
	assert.Len(t, byTopic, 3)

	bySender, err := l.Query(ctx, Filter{Topic: models.MessageAgentOutput, Sender: "triage"})
	require.NoError(t, err)
	require.Len(t, bySender, 2)

	limited, err := l.Query(ctx, Filter{Topic: models.MessageAgentOutput, Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, int64(3), limited[0].Sequence)
}

func TestFindLastReturnsMostRecentMatch(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, models.MessageAgentOutput, "triage", map[string]any{"n": 1}, nil)
	require.NoError(t, err)
	last, err := l.Append(ctx, models.MessageAgentOutput, "triage", map[string]any{"n": 2}, nil)
	require.NoError(t, err)

	found, ok, err := l.FindLast(ctx, Filter{Topic: models.MessageAgentOutput})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, last.ID, found.ID)

	_, ok, err = l.FindLast(ctx, Filter{Topic: models.MessageUserInput})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMetadataRoundTripsRepublishedFlag(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	msg, err := l.Append(ctx, models.MessageUserInput, "", map[string]any{}, map[string]any{models.MetaRepublished: true})
	require.NoError(t, err)
	assert.True(t, msg.Republished())

	all, err := l.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Republished())
}

func TestReopenPersistsSequenceAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cluster-1.db")
	l1, err := Open("cluster-1", path)
	require.NoError(t, err)
	m1, err := l1.Append(context.Background(), models.MessageUserInput, "", map[string]any{}, nil)
	require.NoError(t, err)
	require.NoError(t, l1.Close())

	l2, err := Open("cluster-1", path)
	require.NoError(t, err)
	defer l2.Close()
	m2, err := l2.Append(context.Background(), models.MessageUserInput, "", map[string]any{}, nil)
	require.NoError(t, err)

	assert.Greater(t, m2.Sequence, m1.Sequence)
}
