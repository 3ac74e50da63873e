// Package cos provides common low-level types and utilities for all aistore projects
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"fmt"
	"os"
	"strings"

	"github.com/teris-io/shortid"
)

const (
	// 64-char alphabet for shortid; deliberately excludes '_' so that
	// generated IDs never break the `<pid>_req_<rand>` segmenting below,
	// and '/' so that names are always valid in the shm namespace.
	sidABC = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ.abcdefghijklmnopqrstuvwxyz"

	reqTag    = "req"
	shmTag    = "shm"
	clientTag = "client"
)

var (
	sid *shortid.Shortid
	pid int
)

func init() {
	pid = os.Getpid()
	sid = shortid.MustNew(4 /*worker*/, sidABC, uint64(pid)|0x1)
}

// GenReqID returns a request ID of the form `<pid>_req_<rand>`, unique within
// this process. The leading <pid> segment is the scheduler's affinity key.
func GenReqID() string { return fmt.Sprintf("%d_%s_%s", pid, reqTag, sid.MustGenerate()) }

// GenShmName returns a shared-buffer name of the form `<pid>_shm_<rand>`,
// unique within the OS shared-memory namespace.
func GenShmName() string { return fmt.Sprintf("%d_%s_%s", pid, shmTag, sid.MustGenerate()) }

// GenClientID returns a transport identity of the form `<pid>_client_<rand>`.
func GenClientID() string { return fmt.Sprintf("%d_%s_%s", pid, clientTag, sid.MustGenerate()) }

// AffinityKey extracts the originating-process segment of a request ID.
// Falls back to the full ID when the format is unexpected.
func AffinityKey(reqID string) string {
	if i := strings.IndexByte(reqID, '_'); i > 0 {
		return reqID[:i]
	}
	return reqID
}
