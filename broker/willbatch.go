// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"

	"github.com/solderzzc/aedes/persistence"
)

// willBatchSize bounds how many wills the sweep loop holds in memory at
// once while draining a WillIterator.
const willBatchSize = 32

// drainWillBatches is the chunking sink the will-sweep timer pipes its
// lazy will stream through: it reads it until exhausted, invoking fn with
// successive batches of up to willBatchSize wills, and stops at the first
// error from either the iterator or fn.
func drainWillBatches(ctx context.Context, it persistence.WillIterator, fn func([]persistence.Will) error) error {
	batch := make([]persistence.Will, 0, willBatchSize)

	for {
		w, ok, err := it.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		batch = append(batch, w)
		if len(batch) == willBatchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}
