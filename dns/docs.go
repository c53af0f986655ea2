// Copyright 2022 The Alis Build Platform. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package dns drives Cloud DNS managed zone operations through the lro package.

UpdateManagedZone patches a zone and waits for, or returns, the resulting operation. DescribeOperation reads a
zone operation without waiting, and Reference turns an operation into an lro.Reference for a later WaitOperation.
*/
package dns // import "go.alis.build/waiter/dns"
