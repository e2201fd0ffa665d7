package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	t.Run("bare postcode", func(t *testing.T) {
		addr, err := ParseAddress("SN8 1RA")
		require.NoError(t, err)
		assert.Equal(t, "SN8 1RA", addr.Postcode)
		assert.Empty(t, addr.HouseNumber)
		assert.Empty(t, addr.UPRN)
	})

	t.Run("postcode without inner space", func(t *testing.T) {
		addr, err := ParseAddress("sn81ra")
		require.NoError(t, err)
		assert.Equal(t, "SN81RA", addr.Postcode)
	})

	t.Run("house number plus postcode", func(t *testing.T) {
		addr, err := ParseAddress("10 SN8 1RA")
		require.NoError(t, err)
		assert.Equal(t, "SN8 1RA", addr.Postcode)
		assert.Equal(t, "10", addr.HouseNumber)
	})

	t.Run("multi-word house identifier", func(t *testing.T) {
		addr, err := ParseAddress("Flat 2 SN8 1RA")
		require.NoError(t, err)
		assert.Equal(t, "SN8 1RA", addr.Postcode)
		assert.Equal(t, "Flat 2", addr.HouseNumber)
	})

	t.Run("all digits is a UPRN", func(t *testing.T) {
		addr, err := ParseAddress("100121060735")
		require.NoError(t, err)
		assert.Equal(t, "100121060735", addr.UPRN)
		assert.Empty(t, addr.Postcode)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := ParseAddress("   ")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("no postcode present", func(t *testing.T) {
		_, err := ParseAddress("10 Downing Street")
		assert.ErrorIs(t, err, ErrMissingPostcode)
	})
}

func TestPaddedUPRN(t *testing.T) {
	addr := Address{UPRN: "12345"}
	assert.Equal(t, "000000012345", addr.PaddedUPRN())

	addr = Address{UPRN: "100121060735"}
	assert.Equal(t, "100121060735", addr.PaddedUPRN())

	assert.Empty(t, Address{}.PaddedUPRN())
}

func TestCacheKey(t *testing.T) {
	t.Run("uprn wins", func(t *testing.T) {
		addr := Address{UPRN: "12345", Postcode: "SN8 1RA"}
		assert.Equal(t, "12345", addr.CacheKey())
	})

	t.Run("postcode is normalized", func(t *testing.T) {
		addr := Address{Postcode: "SN8 1RA"}
		assert.Equal(t, "SN81RA", addr.CacheKey())
	})

	t.Run("house number prefixes the key", func(t *testing.T) {
		addr := Address{Postcode: "SN8 1RA", HouseNumber: "10"}
		assert.Equal(t, "10:SN81RA", addr.CacheKey())
	})
}

func TestSortBins(t *testing.T) {
	bins := []Bin{
		{Type: "Household waste", CollectionDate: "03/10/2026"},
		{Type: "Garden waste", CollectionDate: "19/09/2026"},
		{Type: "Recycling", CollectionDate: "19/09/2026"},
		{Type: "Mixed dry recycling", CollectionDate: "05/09/2026"},
	}

	SortBins(bins)

	assert.Equal(t, "05/09/2026", bins[0].CollectionDate)
	// Same-day collections order by type.
	assert.Equal(t, "Garden waste", bins[1].Type)
	assert.Equal(t, "Recycling", bins[2].Type)
	assert.Equal(t, "03/10/2026", bins[3].CollectionDate)
}

func TestValidatePostcode(t *testing.T) {
	for _, pc := range []string{"SN8 1RA", "sn8 1ra", "SN81RA", "M1 1AE", "EC1A 1BB"} {
		assert.NoError(t, ValidatePostcode(pc), pc)
	}
	for _, pc := range []string{"", "12345", "SN8", "NOT A POSTCODE"} {
		assert.Error(t, ValidatePostcode(pc), pc)
	}
}

func TestValidateUPRN(t *testing.T) {
	assert.NoError(t, ValidateUPRN("100121060735"))
	assert.NoError(t, ValidateUPRN("1"))
	assert.ErrorIs(t, ValidateUPRN("1234567890123"), ErrInvalidInput) // 13 digits
	assert.ErrorIs(t, ValidateUPRN("12a45"), ErrInvalidInput)
	assert.ErrorIs(t, ValidateUPRN(""), ErrMissingUPRN)
}
