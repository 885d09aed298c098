// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import "errors"

// Sentinel errors returned by the broker core.
var (
	// ErrClosed is returned by any operation attempted after Close has
	// completed.
	ErrClosed = errors.New("broker: closed")

	// ErrInvalidTopic is returned when publish is called with a topic
	// that fails validation (empty, or containing wildcard characters).
	ErrInvalidTopic = errors.New("broker: invalid topic")

	// ErrInvalidQoS is returned when publish is called with a qos value
	// outside 0, 1, 2.
	ErrInvalidQoS = errors.New("broker: invalid qos")
)
