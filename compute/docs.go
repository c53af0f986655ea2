// Copyright 2022 The Alis Build Platform. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package compute drives Compute Engine operations through the lro package.

It provides status endpoints for zonal, regional and global Compute Engine operations, and the command handlers
built on them:
  - SetMinCpuPlatform: changes the minimum CPU platform of an instance and waits for, or returns, the operation.
  - DescribeVpnTunnel: reads a VPN tunnel.
  - DescribeOperation: reads the current state of an operation without waiting.

Handlers take resolved references and an explicit *Client. They do not parse flags or resolve credentials.
*/
package compute // import "go.alis.build/waiter/compute"
