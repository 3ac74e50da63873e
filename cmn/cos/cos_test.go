// Package cos provides common low-level types and utilities
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package cos_test

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/P11011/Decoupled-CloudVolume/cmn/cos"
	"github.com/P11011/Decoupled-CloudVolume/tools/tassert"
)

func TestGenIDs(t *testing.T) {
	pidPrefix := fmt.Sprintf("%d_", os.Getpid())

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := cos.GenReqID()
		tassert.Fatalf(t, strings.HasPrefix(id, pidPrefix+"req_"), "req id %q", id)
		_, dup := seen[id]
		tassert.Fatalf(t, !dup, "duplicate req id %q", id)
		seen[id] = struct{}{}
	}

	name := cos.GenShmName()
	tassert.Errorf(t, strings.HasPrefix(name, pidPrefix+"shm_"), "shm name %q", name)
	tassert.Errorf(t, !strings.Contains(name, "/"), "shm name %q must be namespace-safe", name)

	cid := cos.GenClientID()
	tassert.Errorf(t, strings.HasPrefix(cid, pidPrefix+"client_"), "client id %q", cid)
}

func TestAffinityKey(t *testing.T) {
	tassert.Errorf(t, cos.AffinityKey("1234_req_xyz") == "1234", "key %q", cos.AffinityKey("1234_req_xyz"))
	tassert.Errorf(t, cos.AffinityKey(cos.GenReqID()) == fmt.Sprint(os.Getpid()),
		"generated IDs must carry this process's key")
	// malformed IDs fall back to the whole string
	tassert.Errorf(t, cos.AffinityKey("no-separator") == "no-separator", "fallback")
}

func TestDtype(t *testing.T) {
	for d, size := range map[cos.Dtype]int{
		cos.DtypeUint8: 1, cos.DtypeInt16: 2, cos.DtypeUint32: 4,
		cos.DtypeUint64: 8, cos.DtypeFloat64: 8,
	} {
		tassert.Errorf(t, d.Size() == size, "%s size %d", d, d.Size())
	}
	tassert.Errorf(t, cos.DtypeUint64.Integral(), "uint64 is integral")
	tassert.Errorf(t, !cos.DtypeFloat32.Integral(), "float32 is not integral")

	_, err := cos.ParseDtype("uint128")
	tassert.Errorf(t, err != nil, "unknown dtype must not parse")
	d, err := cos.ParseDtype("int64")
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, d == cos.DtypeInt64, "parsed %q", d)
}
