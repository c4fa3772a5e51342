// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package serial

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	X   int    `json:"x" yaml:"x" codec:"x"`
	Y   int    `json:"y" yaml:"y" codec:"y"`
	Tag string `json:"tag" yaml:"tag" codec:"tag"`
}

func TestCodecs_PreserveType(t *testing.T) {
	codecs := map[string]Codec{
		"json":    JSON[point](),
		"cbor":    CBOR[point](),
		"msgpack": Msgpack[point](),
		"yaml":    YAML[point](),
	}

	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, name, c.Name())

			in := point{X: 3, Y: -4, Tag: "origin"}
			data, err := c.Encode(in)
			require.NoError(t, err)

			out, err := c.Decode(data)
			require.NoError(t, err)
			assert.IsType(t, point{}, out)
			assert.Equal(t, in, out)
		})
	}
}

func TestCodec_TypeMismatch(t *testing.T) {
	_, err := JSON[int]().Encode("not an int")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTypeMismatch))
}

func TestCodec_DecodeGarbage(t *testing.T) {
	_, err := JSON[int]().Decode([]byte("{"))
	assert.Error(t, err)
}

func TestBytes_Copies(t *testing.T) {
	c := Bytes()
	in := []byte("payload")

	data, err := c.Encode(in)
	require.NoError(t, err)
	in[0] = 'P'

	out, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), out)
}

func TestCanonical_MapOrderIndependent(t *testing.T) {
	a := map[string]int{"alpha": 1, "beta": 2, "gamma": 3}
	b := map[string]int{"gamma": 3, "alpha": 1, "beta": 2}

	ea, err := Canonical(a)
	require.NoError(t, err)
	eb, err := Canonical(b)
	require.NoError(t, err)
	assert.Equal(t, ea, eb)
}

func TestCanonical_DistinguishesValues(t *testing.T) {
	one, err := Canonical(1)
	require.NoError(t, err)
	two, err := Canonical(2)
	require.NoError(t, err)
	str, err := Canonical("1")
	require.NoError(t, err)

	assert.NotEqual(t, one, two)
	assert.NotEqual(t, one, str)
}

func TestCBOREnvelopeHelpers(t *testing.T) {
	type envelope struct {
		Key     string `codec:"key"`
		Payload []byte `codec:"payload"`
	}
	data, err := MarshalCBOR(envelope{Key: "k", Payload: []byte{1, 2}})
	require.NoError(t, err)

	var out envelope
	require.NoError(t, UnmarshalCBOR(data, &out))
	assert.Equal(t, "k", out.Key)
	assert.Equal(t, []byte{1, 2}, out.Payload)
}

func TestError_IsSerialization(t *testing.T) {
	cause := errors.New("boom")
	err := &Error{Entity: "model", Codec: "json", Op: "encode", Err: cause}

	assert.True(t, errors.Is(err, ErrSerialization))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), `entity "model"`)
}
