package pgstore

import (
	"context"
	"testing"
	"time"

	"github.com/dbpull/dbpull/row"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestPageIteratorCloseStopsProducer(t *testing.T) {
	ctx := context.Background()

	it := newPageIterator()
	g, gctx := errgroup.WithContext(ctx)
	it.group = g

	page := []row.Row{row.New().Set("id", row.Int(1))}
	g.Go(func() error {
		defer close(it.chunks)
		// Endless full pages: only Close can stop this producer.
		return it.produce(gctx, 1, func(cursor []row.Value) ([]row.Row, []row.Value, error) {
			return page, []row.Value{row.Int(1)}, nil
		})
	})

	require.True(t, it.HasNext(ctx))
	require.Len(t, it.Next(ctx), 1)
	it.Close()

	waitCh := make(chan error, 1)
	go func() { waitCh <- g.Wait() }()
	select {
	case err := <-waitCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("producer still running after Close")
	}
	require.False(t, it.HasNext(ctx))
}

func TestPageIteratorDrains(t *testing.T) {
	ctx := context.Background()

	it := newPageIterator()
	g, gctx := errgroup.WithContext(ctx)
	it.group = g

	pages := [][]row.Row{
		{row.New().Set("id", row.Int(1)), row.New().Set("id", row.Int(2))},
		{row.New().Set("id", row.Int(3))},
	}
	g.Go(func() error {
		defer close(it.chunks)
		i := 0
		return it.produce(gctx, 2, func(cursor []row.Value) ([]row.Row, []row.Value, error) {
			page := pages[i]
			i++
			return page, nil, nil
		})
	})

	var got []row.Row
	for it.HasNext(ctx) {
		got = append(got, it.Next(ctx)...)
	}
	require.NoError(t, it.Err())
	require.Len(t, got, 3)
	it.Close()
}
