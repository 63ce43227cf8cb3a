// Copyright (C) 2019-2025, Arcwave, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcframe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetadataOrderedInsertion(t *testing.T) {
	m := New()
	m.Set("b", "2")
	m.Set("a", "1")
	m.Append("a", "1b")

	var order []string
	m.ForEach(func(key string, values []string) { order = append(order, key) })
	require.Equal(t, []string{"b", "a"}, order)
	require.Equal(t, []string{"1", "1b"}, m.GetAll("a"))
}

func TestMetadataForbiddenKeysRejected(t *testing.T) {
	m := New()
	m.Set("content-type", "text/plain")
	m.Set("grpc-timeout", "10S")
	require.False(t, m.Has("content-type"))
	require.False(t, m.Has("grpc-timeout"))
}

func TestMetadataBinaryKey(t *testing.T) {
	m := New()
	m.SetBinary("trace-bin", []byte{0x01, 0x02})
	v, ok := m.Get("trace-bin")
	require.True(t, ok)
	require.Equal(t, []byte{0x01, 0x02}, []byte(v))
}

func TestMetadataFreezeRejectsMutation(t *testing.T) {
	m := New()
	m.Set("k", "v1")
	m.Freeze()
	m.Set("k", "v2")
	m.Append("k", "v3")
	m.Delete("k")
	require.Equal(t, []string{"v1"}, m.GetAll("k"))
}

func TestMetadataCloneIsIndependent(t *testing.T) {
	m := New()
	m.Set("k", "v1")
	clone := m.Clone()
	clone.Set("k", "v2")
	require.Equal(t, []string{"v1"}, m.GetAll("k"))
	require.Equal(t, []string{"v2"}, clone.GetAll("k"))
}
