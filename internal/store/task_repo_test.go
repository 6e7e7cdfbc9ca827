package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskRepoCreateAndClaim(t *testing.T) {
	db := openTestDB(t)
	repo := NewTaskRepo(db)
	ctx := context.Background()

	payload, err := json.Marshal(IngestFilePayload{FileID: 1})
	require.NoError(t, err)

	id, err := repo.Create(ctx, &Task{OriginalFilename: "a.pdf", PayloadKind: PayloadIngestFile, Payload: payload})
	require.NoError(t, err)

	task, err := repo.NextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, id, task.ID)
	assert.Equal(t, TaskStatusProcessing, task.Status)

	again, err := repo.NextPending(ctx)
	require.NoError(t, err)
	assert.Nil(t, again, "claimed task must not be claimable twice")
}

func TestTaskRepoCompleteWithResultChunk(t *testing.T) {
	db := openTestDB(t)
	repo := NewTaskRepo(db)
	ctx := context.Background()

	id, err := repo.Create(ctx, &Task{PayloadKind: PayloadChunkAdd, Payload: []byte(`{}`)})
	require.NoError(t, err)
	_, err = repo.NextPending(ctx)
	require.NoError(t, err)

	chunkID := int64(42)
	require.NoError(t, repo.Complete(ctx, id, &chunkID))

	task, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, task.Status)
	assert.Equal(t, 100, task.Progress)
	require.NotNil(t, task.ResultChunkID)
	assert.Equal(t, chunkID, *task.ResultChunkID)
}

func TestTaskRepoFail(t *testing.T) {
	db := openTestDB(t)
	repo := NewTaskRepo(db)
	ctx := context.Background()

	id, err := repo.Create(ctx, &Task{PayloadKind: PayloadIngestFile, Payload: []byte(`{}`)})
	require.NoError(t, err)

	require.NoError(t, repo.Fail(ctx, id, "embedding service unreachable"))

	task, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusFailed, task.Status)
	assert.Equal(t, "embedding service unreachable", task.ErrorMessage)
}

func TestTaskRepoFailStuckProcessingOnRestart(t *testing.T) {
	db := openTestDB(t)
	repo := NewTaskRepo(db)
	ctx := context.Background()

	id, err := repo.Create(ctx, &Task{PayloadKind: PayloadIngestFile, Payload: []byte(`{}`)})
	require.NoError(t, err)
	_, err = repo.NextPending(ctx)
	require.NoError(t, err)

	n, err := repo.FailStuckProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	task, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusFailed, task.Status)
	assert.Equal(t, "interrupted by restart", task.ErrorMessage)
}

func TestTaskRepoUpdateProgress(t *testing.T) {
	db := openTestDB(t)
	repo := NewTaskRepo(db)
	ctx := context.Background()

	id, err := repo.Create(ctx, &Task{PayloadKind: PayloadIngestFile, Payload: []byte(`{}`)})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateProgress(ctx, id, 50))

	task, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 50, task.Progress)
}
