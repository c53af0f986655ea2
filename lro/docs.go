// Copyright 2022 The Alis Build Platform. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package lro resolves long-running operations (LROs) returned by mutating API calls. A mutation of a cloud resource
typically returns an operation handle rather than the resource itself. The caller may either hand that handle back
to the user straight away, or block until the operation reaches a terminal state.

The lro package provides:
  - Reference: an immutable handle to a pending operation (name, self link and resource locator).
  - Endpoint: the status endpoint of one operation family, generic over the resource type it resolves to.
  - Poller: polls an Endpoint with a bounded exponential backoff until the operation is done, the deadline passes,
    or the context is cancelled.
  - Resolve: the single "wait or return" switch used by command handlers.
  - WaitAll: waits for several operations concurrently.

Failures are typed so that callers can tell them apart with errors.As:
  - ErrOperationFailed: the service reported that the operation failed.
  - ErrWaitDeadlineExceeded: the operation was still pending when the deadline passed.
  - ErrPolling: a status query kept failing after its retries were used up.
  - ErrCancelled: the context was cancelled while waiting. The remote operation keeps running.
  - ErrProtocol: the service returned an inconsistent status.

// More details on LROs are available at: https://google.aip.dev/151
*/
package lro // import "go.alis.build/waiter/lro"
