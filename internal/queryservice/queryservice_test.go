package queryservice_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/sourcegraph/log"
	"github.com/stretchr/testify/require"

	"github.com/quickopen/quickopend/internal/index"
	"github.com/quickopen/quickopend/internal/queryservice"
)

func TestService_RejectsEmptyQuery(t *testing.T) {
	idx := index.New(log.NoOp())
	svc := queryservice.New(idx, log.NoOp())

	_, err := svc.Search(context.Background(), "", 10)
	require.ErrorIs(t, err, queryservice.ErrEmptyQuery)
}

func TestService_RejectsOverlongQuery(t *testing.T) {
	idx := index.New(log.NoOp())
	svc := queryservice.New(idx, log.NoOp())

	_, err := svc.Search(context.Background(), strings.Repeat("a", queryservice.DefaultMaxQueryLen+1), 10)
	require.Error(t, err)
	var tooLong *queryservice.ErrQueryTooLong
	require.ErrorAs(t, err, &tooLong)
}

func TestService_DefaultsMaxHits(t *testing.T) {
	idx := index.New(log.NoOp())
	svc := queryservice.New(idx, log.NoOp())

	var buf bytes.Buffer
	svc.SetQueryLog(&buf)

	res, err := svc.Search(context.Background(), "foo", 0)
	require.NoError(t, err)
	require.Empty(t, res.Hits)
	require.Contains(t, buf.String(), `"max_hits":50`)
}

func TestService_WritesQueryLog(t *testing.T) {
	idx := index.New(log.NoOp())
	svc := queryservice.New(idx, log.NoOp())

	var buf bytes.Buffer
	svc.SetQueryLog(&buf)

	_, err := svc.Search(context.Background(), "foo", 10)
	require.NoError(t, err)
	require.Contains(t, buf.String(), `"query":"foo"`)
}
