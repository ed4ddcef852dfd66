package platformnotifications

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempo/internal/apps/capability"
	"tempo/internal/apps/providers"
	tu "tempo/pkg/testutil"
)

func TestOnlyExposesAppData(t *testing.T) {
	caps := capability.Of(New())
	assert.Equal(t, []string{capability.CapAppData.String()}, caps.Names())
}

func TestAppData(t *testing.T) {
	h := New()
	inst := tu.NewInstance(tu.TestIDs.CompanyA, "platform-notifications").Build()

	out, err := h.ProcessAppData(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), out)

	stored, err := providers.EncodeData(Schema, Preferences{Email: false, InApp: true, DigestHour: 18})
	require.NoError(t, err)
	inst.Data = *stored
	out, err = h.ProcessAppData(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, Preferences{Email: false, InApp: true, DigestHour: 18, MutedCategories: []string{}}, out)

	inst.Data.Schema = "other/v1"
	_, err = h.ProcessAppData(context.Background(), inst)
	assert.Error(t, err)
}
