package rebuild

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relogdev/relog/internal/model"
	"github.com/relogdev/relog/internal/notedb"
	"github.com/relogdev/relog/internal/testutil"
)

func applyMessage(t *testing.T, shadow *shadowChange, text string) {
	t.Helper()
	change := testChange()
	e := newMessageEvent(change, &model.Message{
		Key: "m", Author: 2000, WrittenOn: testutil.At(1_000),
		Message: text, PatchSet: psID(1),
	}, shadow)
	u := notedb.NewUpdate(change, 2000, 2000, testutil.At(1_000), *psID(1), "")
	require.NoError(t, e.Apply(u))
}

func TestMessageTopicParsing(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		initial string
		want    string
	}{
		{"set", "Topic set to widgets", "", "widgets"},
		{"changed", "Topic changed from widgets to gadgets", "widgets", "gadgets"},
		{"removed", "Topic widgets removed", "widgets", ""},
		{"set with spaces", "Topic set to release 2.16", "", "release 2.16"},
		{"unrelated", "Uploaded patch set 2.", "widgets", "widgets"},
		{"multiline does not match", "Topic set to widgets\nand more", "", ""},
		{"prefix only does not match", "Topic set to ", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			shadow := &shadowChange{topic: tc.initial, status: model.StatusNew}
			applyMessage(t, shadow, tc.text)
			assert.Equal(t, tc.want, shadow.topic)
		})
	}
}

func TestMessageStatusParsing(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		initial model.Status
		want    model.Status
	}{
		{"abandoned", "Abandoned", model.StatusNew, model.StatusAbandoned},
		{"abandoned with reason", "Abandoned\n\nsuperseded by another change", model.StatusNew, model.StatusAbandoned},
		{"restored", "Restored", model.StatusAbandoned, model.StatusNew},
		{"restored with reason", "Restored\npicking this back up", model.StatusAbandoned, model.StatusNew},
		{"lowercase does not match", "abandoned", model.StatusNew, model.StatusNew},
		{"prefix inside text does not match", "This change was Abandoned earlier", model.StatusNew, model.StatusNew},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			shadow := &shadowChange{status: tc.initial}
			applyMessage(t, shadow, tc.text)
			assert.Equal(t, tc.want, shadow.status)
		})
	}
}

func TestMessageEventIsUniquePerUpdate(t *testing.T) {
	change := testChange()
	e := newMessageEvent(change, &model.Message{
		Key: "m", Author: 2000, WrittenOn: testutil.At(0), Message: "hi", PatchSet: psID(1),
	}, newShadowChange())
	assert.True(t, e.UniquePerUpdate())
	assert.Equal(t, KindMessage, e.Kind())
}
