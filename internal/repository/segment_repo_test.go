package repository

import (
	"context"
	"testing"

	"github.com/mixfold/mixfold/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentRepo_UpsertIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSegmentRepository(db)
	ctx := context.Background()

	first := &models.Segment{
		SessionID: "s1", SegmentNumber: 0, ChannelGroup: "ch01-06",
		Format: models.SegmentFormatFLAC, LocalPath: "/tmp/one.flac",
		FileSize: 100, ReceivedAt: models.Now(),
	}
	require.NoError(t, repo.Upsert(ctx, first))

	// Re-upload of the same identity replaces path and size.
	second := &models.Segment{
		SessionID: "s1", SegmentNumber: 0, ChannelGroup: "ch01-06",
		Format: models.SegmentFormatFLAC, LocalPath: "/tmp/two.flac",
		FileSize: 200, ReceivedAt: models.Now(),
	}
	require.NoError(t, repo.Upsert(ctx, second))

	count, err := repo.CountBySession(ctx, "s1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	stored, err := repo.GetByIdentity(ctx, "s1", 0, "ch01-06")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/two.flac", stored.LocalPath)
	assert.EqualValues(t, 200, stored.FileSize)
	assert.False(t, stored.Uploaded())
}

func TestSegmentRepo_UpsertResetsObjectKey(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSegmentRepository(db)
	ctx := context.Background()

	seg := &models.Segment{
		SessionID: "s1", SegmentNumber: 3, ChannelGroup: "ch07-12",
		Format: models.SegmentFormatWAV, LocalPath: "/tmp/a.wav",
		FileSize: 50, ReceivedAt: models.Now(),
	}
	require.NoError(t, repo.Upsert(ctx, seg))
	require.NoError(t, repo.SetObjectKey(ctx, seg.ID, "segments/s1/a.wav"))

	// A fresh upload of the same identity needs replication again.
	require.NoError(t, repo.Upsert(ctx, &models.Segment{
		SessionID: "s1", SegmentNumber: 3, ChannelGroup: "ch07-12",
		Format: models.SegmentFormatWAV, LocalPath: "/tmp/b.wav",
		FileSize: 60, ReceivedAt: models.Now(),
	}))

	stored, err := repo.GetByIdentity(ctx, "s1", 3, "ch07-12")
	require.NoError(t, err)
	assert.Empty(t, stored.S3Key)
}

func TestSegmentRepo_ListBySessionOrder(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSegmentRepository(db)
	ctx := context.Background()

	for _, s := range []struct {
		num   int
		group string
	}{
		{1, "ch07-12"}, {0, "ch01-06"}, {1, "ch01-06"}, {0, "ch07-12"},
	} {
		require.NoError(t, repo.Upsert(ctx, &models.Segment{
			SessionID: "s1", SegmentNumber: s.num, ChannelGroup: s.group,
			Format: models.SegmentFormatFLAC, LocalPath: "/tmp/x", FileSize: 1,
			ReceivedAt: models.Now(),
		}))
	}

	segments, err := repo.ListBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, segments, 4)
	assert.Equal(t, 0, segments[0].SegmentNumber)
	assert.Equal(t, "ch01-06", segments[0].ChannelGroup)
	assert.Equal(t, 1, segments[3].SegmentNumber)
	assert.Equal(t, "ch07-12", segments[3].ChannelGroup)
}

func TestProcessedChannelRepo_UniquePerChannel(t *testing.T) {
	db := setupTestDB(t)
	repo := NewProcessedChannelRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &models.ProcessedChannel{
		SessionID: "s1", ChannelNumber: 2, LocalPath: "/tmp/old.mp3",
		IsQuiet: true, IsSilent: true,
	}))
	require.NoError(t, repo.Upsert(ctx, &models.ProcessedChannel{
		SessionID: "s1", ChannelNumber: 2, LocalPath: "/tmp/new.mp3",
		HLSURL: "https://cdn/hls/s1/channel_02.m3u8",
	}))

	channels, err := repo.ListBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "/tmp/new.mp3", channels[0].LocalPath)
	assert.False(t, channels[0].IsQuiet)
	assert.NotEmpty(t, channels[0].HLSURL)
}
