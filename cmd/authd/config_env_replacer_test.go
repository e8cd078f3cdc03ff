package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type envReplaceTestStruct struct {
	String string
	NotMe  string
}

type envReplaceTest struct {
	String string
	Struct envReplaceTestStruct
	Hash   string // bcrypt hashes start with "$2a$" and look like env references but aren't.
	Slice  []envReplaceTestStruct
}

func TestReplaceEnvKeys(t *testing.T) {
	data := &envReplaceTest{
		String: "$REPLACE_ME",
		Hash:   "$2a$10$33EMT0cVYVlPy6WAMCLsceLYjWhuHpbz5yuZxu/GAFj03J9Lytjuy",
		Struct: envReplaceTestStruct{String: "$ME_TOO", NotMe: "$DOES_NOT_EXIST"},
		Slice:  []envReplaceTestStruct{{String: "$ME_TOO"}},
	}

	getenv := func(key string) string {
		switch key {
		case "REPLACE_ME":
			return "foo"
		case "ME_TOO":
			return "bar"
		default:
			return ""
		}
	}

	require.NoError(t, replaceEnvKeys(data, getenv))

	require.Equal(t, "foo", data.String)
	require.Equal(t, "bar", data.Struct.String)
	require.Equal(t, "", data.Struct.NotMe)
	require.Equal(t, "$2a$10$33EMT0cVYVlPy6WAMCLsceLYjWhuHpbz5yuZxu/GAFj03J9Lytjuy", data.Hash)
	require.Equal(t, "bar", data.Slice[0].String)
}

func TestReplaceEnvKeysLeavesShortDollarStringsAlone(t *testing.T) {
	data := &envReplaceTestStruct{String: "$"}
	require.NoError(t, replaceEnvKeys(data, func(string) string { return "should-not-be-used" }))
	require.Equal(t, "$", data.String)
}
