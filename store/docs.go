// Copyright 2022 The Alis Build Platform. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package store records long-running operations once they are done. A wait on an operation that has already been
recorded is answered from the record, so a terminal operation is never polled again.

Operations are stored as google.longrunning Operation messages keyed by their name. The backends are:
  - NewMemoryStore keeps operations in process memory.
  - NewBigtableStore keeps operations in a Google Cloud Bigtable table, one row per operation.
  - NewSpannerStore keeps operations in a Cloud Spanner table created with SpannerSchema.
  - NewSQLStore and NewMySQLStore keep operations in a MySQL table created with Schema.
*/
package store // import "go.alis.build/waiter/store"
