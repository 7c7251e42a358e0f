package archive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sitebook/internal/workbook"
)

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = b
	return &s3.PutObjectOutput{}, nil
}

func testArchiver(client PutObjectAPI) *Archiver {
	a := NewWithClient(client, "site-exports", "/exports/", slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.clock = func() time.Time {
		return time.Date(2025, 3, 9, 17, 4, 5, 0, time.FixedZone("PST", -8*3600))
	}
	return a
}

func TestKey(t *testing.T) {
	a := testArchiver(&fakeS3{})
	key := a.Key("projects", time.Date(2025, 3, 9, 23, 59, 1, 0, time.FixedZone("PST", -8*3600)))
	assert.Equal(t, "exports/2025/03/10/projects-075901.xlsx", key, "keys use UTC")
}

func TestArchive_UploadsWorkbook(t *testing.T) {
	client := &fakeS3{}
	a := testArchiver(client)

	wb := workbook.New()
	wb.AddSheet(workbook.Sheet{Name: "phases", Header: []string{"name"}, Rows: [][]any{{"Framing"}}})

	key, err := a.Archive(context.Background(), "all", wb)
	require.NoError(t, err)
	assert.Equal(t, "exports/2025/03/10/all-010405.xlsx", key)

	require.NotNil(t, client.input)
	assert.Equal(t, "site-exports", aws.ToString(client.input.Bucket))
	assert.Equal(t, key, aws.ToString(client.input.Key))
	assert.Equal(t, xlsxContentType, aws.ToString(client.input.ContentType))
	assert.Equal(t, int64(len(client.body)), aws.ToInt64(client.input.ContentLength))
	assert.Equal(t, []byte("PK"), client.body[:2], "xlsx is a zip archive")
}

func TestArchive_PutError(t *testing.T) {
	a := testArchiver(&fakeS3{err: errors.New("access denied")})

	wb := workbook.New()
	wb.AddSheet(workbook.Sheet{Name: "phases", Header: []string{"name"}, Rows: [][]any{{"Framing"}}})

	_, err := a.Archive(context.Background(), "phases", wb)
	assert.ErrorContains(t, err, "access denied")
	assert.ErrorContains(t, err, "s3://site-exports/")
}
