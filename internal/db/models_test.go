package db

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBigIntValueScan(t *testing.T) {
	huge, _ := new(big.Int).SetString("340282366920938463463374607431768211456", 10)
	v, err := NewBigInt(huge).Value()
	require.NoError(t, err)
	assert.Equal(t, huge.String(), v)

	var b BigInt
	require.NoError(t, b.Scan([]byte(huge.String())))
	assert.Equal(t, 0, b.Cmp(huge))
	require.NoError(t, b.Scan(int64(7)))
	assert.Equal(t, int64(7), b.Int64())
	require.NoError(t, b.Scan(nil))
	assert.Nil(t, b.Int)
	assert.Error(t, b.Scan("12ab"))
	assert.Error(t, b.Scan(3.5))

	nilValue, err := BigInt{}.Value()
	require.NoError(t, err)
	assert.Nil(t, nilValue)
}

func TestBigIntJSON(t *testing.T) {
	raw, err := NewBigInt(big.NewInt(42)).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"42"`, string(raw))

	var b BigInt
	require.NoError(t, b.UnmarshalJSON([]byte(`"100"`)))
	assert.Equal(t, int64(100), b.Int64())
	require.NoError(t, b.UnmarshalJSON([]byte(`5`)))
	assert.Equal(t, int64(5), b.Int64())
	require.NoError(t, b.UnmarshalJSON([]byte(`null`)))
	assert.Nil(t, b.Int)
	assert.Error(t, b.UnmarshalJSON([]byte(`"x"`)))
}

func TestNewBigIntCopies(t *testing.T) {
	src := big.NewInt(1)
	b := NewBigInt(src)
	src.SetInt64(2)
	assert.Equal(t, int64(1), b.Int64())
	assert.Nil(t, NewBigInt(nil).Int)
}

func TestStringList(t *testing.T) {
	v, err := StringList{"0xa", "0xb"}.Value()
	require.NoError(t, err)
	assert.Equal(t, `["0xa","0xb"]`, v)

	var l StringList
	require.NoError(t, l.Scan(v))
	assert.Equal(t, StringList{"0xa", "0xb"}, l)
	assert.True(t, l.Contains("0xb"))
	assert.False(t, l.Contains("0xc"))

	require.NoError(t, l.Scan(nil))
	assert.Nil(t, l)
	assert.Error(t, l.Scan(42))
}

func TestTransactionStatus(t *testing.T) {
	assert.True(t, IsFinalStatus(TX_STATUS_COMPLETED))
	assert.True(t, IsFinalStatus(TX_STATUS_FAILED))
	assert.False(t, IsFinalStatus(TX_STATUS_QUEUED))
	assert.False(t, IsFinalStatus(TX_STATUS_GENERATING))
	assert.Equal(t, "Generating Transaction", FormatTransactionStatus(TX_STATUS_GENERATING))
	assert.Equal(t, "Unknown", FormatTransactionStatus("bogus"))
}
