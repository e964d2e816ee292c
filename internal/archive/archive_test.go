package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrouter/internal/types"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)       {}
func (nopLogger) Info(string, ...any)        {}
func (nopLogger) Warn(string, ...any)        {}
func (nopLogger) Error(string, ...any)       {}
func (l nopLogger) With(...any) types.Logger { return l }

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	inputs  []*s3.PutObjectInput
	err     error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[aws.ToString(in.Key)] = body
	f.inputs = append(f.inputs, in)
	return &s3.PutObjectOutput{}, nil
}

func sampleEvent() *types.Event {
	return &types.Event{
		ID:         "3f1c9a",
		ReceivedAt: time.Date(2026, 7, 4, 23, 30, 0, 0, time.FixedZone("PDT", -7*3600)),
		Source:     "github",
		Data:       map[string]any{"title": "Deploy finished", "count": float64(3)},
		Headers:    map[string]string{"user-agent": "GitHub-Hookshot"},
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "events/github/2026/07/05/3f1c9a.json.zst", Key(sampleEvent()), "date is taken in UTC")

	evt := sampleEvent()
	evt.Source = "../../etc"
	assert.Equal(t, "events/..%2F..%2Fetc/2026/07/05/3f1c9a.json.zst", Key(evt))
}

func TestArchive_RoundTrip(t *testing.T) {
	client := &fakeS3{}
	a, err := New(client, "hook-archive", nopLogger{})
	require.NoError(t, err)

	evt := sampleEvent()
	key, err := a.Archive(context.Background(), evt)
	require.NoError(t, err)

	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "hook-archive", aws.ToString(in.Bucket))
	assert.Equal(t, "zstd", aws.ToString(in.ContentEncoding))
	assert.Equal(t, "github", in.Metadata["source"])

	got, err := Decode(bytes.NewReader(client.objects[key]))
	require.NoError(t, err)
	assert.Equal(t, evt.ID, got.ID)
	assert.Equal(t, evt.Data, got.Data)
	assert.True(t, evt.ReceivedAt.Equal(got.ReceivedAt))
}

func TestArchive_Error(t *testing.T) {
	a, err := New(&fakeS3{err: errors.New("AccessDenied")}, "b", nopLogger{})
	require.NoError(t, err)
	_, err = a.Archive(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://b/events/github")
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(&fakeS3{}, "", nopLogger{})
	assert.Error(t, err)
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("not zstd")))
	assert.Error(t, err)
}
