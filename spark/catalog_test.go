package spark_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/spark"
)

func TestCatalog_AddValidates(t *testing.T) {
	c := spark.NewCatalog()

	cases := []struct {
		name  string
		spark spark.Spark
	}{
		{"transfer_no_endpoints", spark.Spark{Operations: []spark.Operation{{Type: spark.OpTransfer, Amount: 1}}}},
		{"transfer_no_amount", spark.Spark{Operations: []spark.Operation{{Type: spark.OpTransfer, From: "a", To: "b"}}}},
		{"balance_no_account", spark.Spark{Operations: []spark.Operation{{Type: spark.OpBalance}}}},
		{"metadata_no_field", spark.Spark{Operations: []spark.Operation{{Type: spark.OpGetMetadata, Account: "a"}}}},
		{"unknown_type", spark.Spark{Operations: []spark.Operation{{Type: "teleport"}}}},
	}
	for _, tc := range cases {
		assert.Error(t, c.Add(tc.name, tc.spark), tc.name)
	}
	assert.Error(t, c.Add("", spark.Spark{}), "empty name")
	assert.Equal(t, 0, c.Len())
}

func TestCatalog_AddReplaceRemove(t *testing.T) {
	c := spark.NewCatalog()

	require.NoError(t, c.Add("ping", spark.Spark{
		Description: "v1",
		Operations:  []spark.Operation{{Type: spark.OpBalance, Account: "system:genesis"}},
	}))
	require.NoError(t, c.Add("ping", spark.Spark{
		Description: "v2",
		Operations:  []spark.Operation{{Type: spark.OpBalance, Account: "system:void"}},
	}))

	got, ok := c.Get("ping")
	require.True(t, ok)
	assert.Equal(t, "v2", got.Description)
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Remove("ping"))
	assert.ErrorIs(t, c.Remove("ping"), ledger.ErrNotFound)
	_, ok = c.Get("ping")
	assert.False(t, ok)
}

func TestCatalog_ListSorted(t *testing.T) {
	c := spark.NewCatalog()
	op := []spark.Operation{{Type: spark.OpBalance, Account: "a"}}
	require.NoError(t, c.Add("zeta", spark.Spark{Operations: op}))
	require.NoError(t, c.Add("alpha", spark.Spark{Inputs: []string{"x"}, Operations: op}))

	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, []string{"x"}, list[0].Inputs)
	assert.Equal(t, 1, list[0].OperationCount)
	assert.Equal(t, "zeta", list[1].Name)
}

func TestCatalog_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sparks.json")
	body := `{
	  "schema_version": "1.0",
	  "sparks": {
	    "create_user": {
	      "description": "register a user",
	      "inputs": ["user_id", "email"],
	      "operations": [
	        {"type": "transfer", "from": "system:genesis", "to": "user:{user_id}:existence", "amount": 1},
	        {"type": "transfer", "from": "system:genesis", "to": "user:{user_id}:email", "amount": "{email}", "blob": true}
	      ]
	    }
	  }
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	c, err := spark.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	s, ok := c.Get("create_user")
	require.True(t, ok)
	assert.Equal(t, []string{"user_id", "email"}, s.Inputs)
	require.Len(t, s.Operations, 2)
	assert.True(t, s.Operations[1].Blob)
}

func TestCatalog_LoadFileRejectsBadSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sparks.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_version": "2.0", "sparks": {}}`), 0o644))

	_, err := spark.LoadFile(path)
	assert.Error(t, err)
}

func TestCatalog_ShippedDefinitionLoads(t *testing.T) {
	c, err := spark.LoadFile(filepath.Join("..", "sparks.json"))
	require.NoError(t, err)
	assert.NotZero(t, c.Len())

	for _, name := range []string{"create_user", "create_product", "get_product", "purchase"} {
		_, ok := c.Get(name)
		assert.True(t, ok, "shipped catalog should define %s", name)
	}
}
