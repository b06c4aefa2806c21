// Copyright 2023 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package lightheader defines the narrow header shape les/sync needs from
// a real block header: enough to order, chain, and identify it. No wire
// encoding or consensus validation is in scope here; those belong to
// collaborators (see the PersistentHeaderDB and Peer interfaces in les/sync).
package lightheader

import "github.com/holiman/uint256"

// Header is the minimal stand-in this module threads through the queue,
// the dependency tracker, and the external header database. Number uses
// uint256.Int rather than big.Int, matching the preference go-ethereum
// itself shows for fixed-width arithmetic on consensus-adjacent fields.
type Header struct {
	Hash       string
	ParentHash string
	Number     *uint256.Int
}
