package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pagestate/internal/ir"
	"github.com/roach88/pagestate/internal/testutil"
)

const top = ir.TopFrameID

var window = ir.Window{Start: 100, End: 200}

const listPage = `<html><head><title>Page 1</title></head><body><h1>Page 1</h1><ul><li>a</li></ul></body></html>`

// findXPath returns the result observed for expr, or nil.
func findXPath(obs []ir.Observation, expr string) ir.IRValue {
	for _, o := range obs {
		if o.Type == ir.KindXPath && len(o.Args) == 1 && o.Args[0] == ir.IRString(expr) {
			return o.Result
		}
	}
	return nil
}

func TestExtract_WindowScoping(t *testing.T) {
	log := testutil.NewMemoryLog("s1", 1).
		Reset(1, top, 10, listPage, "https://example.com/").
		Insert(1, top, 120, "/html/body/ul", "<li>b</li>").
		Insert(1, top, 150, "/html/body/ul", "<li>c</li>").
		Insert(1, top, 250, "/html/body/ul", "<li>late</li>")

	res := Extract(context.Background(), log, 1, window)
	require.Empty(t, res.Failures)
	obs := res.Frames[top]
	require.NotEmpty(t, obs)

	assert.Equal(t, ir.IRInt(3), findXPath(obs, "count(/HTML/BODY/UL/LI)"))
	assert.Equal(t, ir.IRInt(1), findXPath(obs, `count(//LI[text()="b"])`))
	assert.Equal(t, ir.IRInt(1), findXPath(obs, `count(//LI[text()="c"])`))

	// Unchanged during the window.
	assert.Nil(t, findXPath(obs, "string(/HTML/BODY/H1)"))
	assert.Nil(t, findXPath(obs, "string(/HTML/HEAD/TITLE)"))
	assert.Nil(t, findXPath(obs, `count(//LI[text()="a"])`))
	// After the window.
	assert.Nil(t, findXPath(obs, `count(//LI[text()="late"])`))
	// Several LIs now share the path, so it has no single string value.
	assert.Nil(t, findXPath(obs, "string(/HTML/BODY/UL/LI)"))

	assert.Equal(t, "s1", res.SessionID)
}

func TestExtract_SameEndStateSameObservations(t *testing.T) {
	oneStep := testutil.NewMemoryLog("a", 1).
		Reset(1, top, 10, listPage, "https://example.com/").
		Insert(1, top, 110, "/html/body/ul", "<li>b</li><li>c</li>")
	twoSteps := testutil.NewMemoryLog("b", 1).
		Reset(1, top, 10, listPage, "https://example.com/").
		Insert(1, top, 110, "/html/body/ul", "<li>b</li>").
		Insert(1, top, 120, "/html/body/ul", "<li>x</li>").
		SetText(1, top, 130, "/html/body/ul/li[3]", "c")

	a := Extract(context.Background(), oneStep, 1, window)
	b := Extract(context.Background(), twoSteps, 1, window)

	assert.Equal(t, a.Frames, b.Frames)
}

func TestExtract_RemovedElementObservedAsZero(t *testing.T) {
	log := testutil.NewMemoryLog("s1", 1).
		Reset(1, top, 10, listPage, "https://example.com/").
		Remove(1, top, 150, "/html/body/h1")

	obs := Extract(context.Background(), log, 1, window).Frames[top]

	assert.Equal(t, ir.IRInt(0), findXPath(obs, "count(/HTML/BODY/H1)"))
	assert.Equal(t, ir.IRString(""), findXPath(obs, "string(/HTML/BODY/H1)"))
	assert.Equal(t, ir.IRInt(0), findXPath(obs, `count(//H1[text()="Page 1"])`))
}

func TestExtract_TextChange(t *testing.T) {
	log := testutil.NewMemoryLog("s1", 1).
		Reset(1, top, 10, listPage, "https://example.com/").
		SetText(1, top, 150, "/html/body/h1", "Page 2")

	obs := Extract(context.Background(), log, 1, window).Frames[top]

	assert.Equal(t, ir.IRString("Page 2"), findXPath(obs, "string(/HTML/BODY/H1)"))
	assert.Equal(t, ir.IRInt(1), findXPath(obs, `count(//H1[text()="Page 2"])`))
	assert.Equal(t, ir.IRInt(0), findXPath(obs, `count(//H1[text()="Page 1"])`))
	assert.Nil(t, findXPath(obs, "count(/HTML/BODY/H1)"), "element count did not change")
}

func TestExtract_ClearedTextObservedAsEmpty(t *testing.T) {
	log := testutil.NewMemoryLog("s1", 1).
		Reset(1, top, 10, listPage, "https://example.com/").
		SetText(1, top, 120, "/html/body/h1", "")

	obs := Extract(context.Background(), log, 1, window).Frames[top]

	assert.Equal(t, ir.IRString(""), findXPath(obs, "string(/HTML/BODY/H1)"))
	assert.Equal(t, ir.IRInt(0), findXPath(obs, `count(//H1[text()="Page 1"])`))
	assert.Nil(t, findXPath(obs, "count(/HTML/BODY/H1)"), "element count did not change")
}

func TestExtract_TextTooLongIsNotEmpty(t *testing.T) {
	log := testutil.NewMemoryLog("s1", 1).
		Reset(1, top, 10, listPage, "https://example.com/").
		SetText(1, top, 120, "/html/body/h1", strings.Repeat("x", maxTextLen+1))

	obs := Extract(context.Background(), log, 1, window).Frames[top]

	assert.Nil(t, findXPath(obs, "string(/HTML/BODY/H1)"))
	assert.Equal(t, ir.IRInt(0), findXPath(obs, `count(//H1[text()="Page 1"])`))
}

func TestExtract_SharedPathLosingTextIsNotObserved(t *testing.T) {
	log := testutil.NewMemoryLog("s1", 1).
		Reset(1, top, 10, listPage, "https://example.com/").
		Insert(1, top, 120, "/html/body/ul", "<li></li>")

	obs := Extract(context.Background(), log, 1, window).Frames[top]

	assert.Equal(t, ir.IRInt(2), findXPath(obs, "count(/HTML/BODY/UL/LI)"))
	assert.Nil(t, findXPath(obs, "string(/HTML/BODY/UL/LI)"))
}

func TestExtract_AttributeQualifiedCount(t *testing.T) {
	log := testutil.NewMemoryLog("s1", 1).
		Reset(1, top, 10, `<body><div class="slider"></div></body>`, "https://example.com/").
		SetAttr(1, top, 150, "/html/body/div", "style", "width: 50%;")

	obs := Extract(context.Background(), log, 1, window).Frames[top]

	assert.Equal(t, ir.IRInt(1), findXPath(obs, `count(/HTML/BODY/DIV[@class="slider"][@style="width: 50%;"])`))
	assert.Equal(t, ir.IRInt(0), findXPath(obs, `count(/HTML/BODY/DIV[@class="slider"])`))
}

func TestExtract_RedirectKeepsTopFrame(t *testing.T) {
	log := testutil.NewMemoryLog("s1", 1).
		Reset(1, top, 10, listPage, "https://example.com/").
		Reset(1, top, 110, `<body><h1>Redirecting</h1></body>`, "https://example.com/login").
		Reset(1, top, 130, `<body><h1>Welcome</h1></body>`, "https://example.com/home")

	res := Extract(context.Background(), log, 1, window)
	require.Empty(t, res.Failures)
	assert.Equal(t, []int64{top}, res.FrameIDs())

	obs := res.Frames[top]
	assert.Equal(t, ir.IRString("Welcome"), findXPath(obs, "string(/HTML/BODY/H1)"))
	assert.Nil(t, findXPath(obs, `count(//H1[text()="Redirecting"])`))
	assert.Equal(t, ir.IRInt(0), findXPath(obs, "count(/HTML/BODY/UL)"))
}

func TestExtract_StorageNetEffect(t *testing.T) {
	origin := "https://example.com"
	log := testutil.NewMemoryLog("s1", 1).
		Storage(ir.StorageChange{TabID: 1, FrameID: top, Timestamp: 50, Type: ir.StorageLocal, Action: ir.StorageAdd, SecurityOrigin: origin, Key: "before", Value: "x"}).
		Storage(ir.StorageChange{TabID: 1, FrameID: top, Timestamp: 110, Type: ir.StorageLocal, Action: ir.StorageAdd, SecurityOrigin: origin, Key: "theme", Value: "light"}).
		Storage(ir.StorageChange{TabID: 1, FrameID: top, Timestamp: 120, Type: ir.StorageLocal, Action: ir.StorageUpdate, SecurityOrigin: origin, Key: "theme", Value: "dark"}).
		Storage(ir.StorageChange{TabID: 1, FrameID: top, Timestamp: 130, Type: ir.StorageSession, Action: ir.StorageAdd, SecurityOrigin: origin, Key: "theme", Value: "light"}).
		Storage(ir.StorageChange{TabID: 1, FrameID: top, Timestamp: 140, Type: ir.StorageCookie, Action: ir.StorageAdd, SecurityOrigin: origin, Key: "sid", Value: "1"}).
		Storage(ir.StorageChange{TabID: 1, FrameID: top, Timestamp: 150, Type: ir.StorageCookie, Action: ir.StorageRemove, SecurityOrigin: origin, Key: "sid"}).
		Storage(ir.StorageChange{TabID: 1, FrameID: top, Timestamp: 160, Type: ir.StorageIndexedDB, Action: ir.StorageAdd, SecurityOrigin: origin, Key: "1", Value: "todo", Database: "app", Store: "items"})

	obs := Extract(context.Background(), log, 1, window).Frames[top]
	require.Len(t, obs, 4)

	byKind := map[ir.Kind][]ir.Observation{}
	for _, o := range obs {
		byKind[o.Type] = append(byKind[o.Type], o)
	}

	require.Len(t, byKind[ir.KindStorage], 2, "localStorage and sessionStorage stay distinct")
	for _, o := range byKind[ir.KindStorage] {
		desc := o.Args[0].(ir.IRObject)
		switch desc["type"] {
		case ir.IRString(ir.StorageLocal):
			assert.Equal(t, ir.IRString("dark"), o.Result, "last write wins")
		case ir.IRString(ir.StorageSession):
			assert.Equal(t, ir.IRString("light"), o.Result)
		default:
			t.Fatalf("unexpected storage type %v", desc["type"])
		}
	}

	require.Len(t, byKind[ir.KindCookie], 1)
	assert.Equal(t, ir.IRNull{}, byKind[ir.KindCookie][0].Result)

	require.Len(t, byKind[ir.KindIndexedDB], 1)
	desc := byKind[ir.KindIndexedDB][0].Args[0].(ir.IRObject)
	assert.Equal(t, ir.IRString("app"), desc["database"])
	assert.Equal(t, ir.IRString("items"), desc["store"])
}

func TestExtract_ResourcesDeduplicated(t *testing.T) {
	log := testutil.NewMemoryLog("s1", 1).
		Resource(ir.Resource{TabID: 1, FrameID: top, Timestamp: 110, URL: "https://EXAMPLE.com/api/items#top", ResourceType: "Fetch"}).
		Resource(ir.Resource{TabID: 1, FrameID: top, Timestamp: 120, URL: "https://example.com/api/items", Method: "get", ResourceType: "Fetch"}).
		Resource(ir.Resource{TabID: 1, FrameID: top, Timestamp: 130, URL: "https://example.com/api/items", Method: "POST", ResourceType: "Fetch"}).
		Resource(ir.Resource{TabID: 1, FrameID: top, Timestamp: 90, URL: "https://example.com/early.js", ResourceType: "Script"})

	obs := Extract(context.Background(), log, 1, window).Frames[top]
	require.Len(t, obs, 2)
	for _, o := range obs {
		assert.Equal(t, ir.KindResource, o.Type)
		assert.Equal(t, ir.IRBool(true), o.Result)
		desc := o.Args[0].(ir.IRObject)
		assert.Equal(t, ir.IRString("https://example.com/api/items"), desc["url"])
	}
}

func TestExtract_FrameFailureIsolated(t *testing.T) {
	boom := errors.New("disk read failed")
	log := testutil.NewMemoryLog("s1", 1).
		AddFrame(1, 2, top).
		AddFrame(1, 3, top).
		Reset(1, top, 10, listPage, "https://example.com/").
		Insert(1, top, 120, "/html/body/ul", "<li>b</li>").
		Insert(1, 3, 120, "/html/body/table", "<tr></tr>").
		FailDom(1, 2, boom)

	res := Extract(context.Background(), log, 1, window)

	require.Contains(t, res.Failures, int64(2))
	assert.ErrorIs(t, res.Failures[2], boom)
	require.Contains(t, res.Failures, int64(3))
	assert.ErrorIs(t, res.Failures[3], ErrInconsistentLog)
	assert.True(t, res.Failed())

	assert.Equal(t, []int64{top}, res.FrameIDs())
	assert.Equal(t, ir.IRInt(2), findXPath(res.Frames[top], "count(/HTML/BODY/UL/LI)"))
}

func TestExtract_UnreadableFramesFailsTopFrame(t *testing.T) {
	log := testutil.NewMemoryLog("s1", 1).FailFrames(1, errors.New("locked"))

	res := Extract(context.Background(), log, 1, window)

	assert.Empty(t, res.Frames)
	assert.Contains(t, res.Failures, top)
}

func TestExtract_StorageFailureFailsEveryFrame(t *testing.T) {
	log := testutil.NewMemoryLog("s1", 1).
		AddFrame(1, 2, top).
		Reset(1, top, 10, listPage, "https://example.com/").
		Insert(1, top, 120, "/html/body/ul", "<li>b</li>").
		FailStorage(errors.New("corrupt"))

	res := Extract(context.Background(), log, 1, window)

	assert.Empty(t, res.Frames)
	assert.Len(t, res.Failures, 2)
}

func TestExtract_NoChangesNoFrames(t *testing.T) {
	log := testutil.NewMemoryLog("s1", 1).
		Reset(1, top, 10, listPage, "https://example.com/")

	res := Extract(context.Background(), log, 1, window)

	assert.Empty(t, res.Frames)
	assert.Empty(t, res.Failures)
}

func TestExtract_ObservationsSorted(t *testing.T) {
	log := testutil.NewMemoryLog("s1", 1).
		Reset(1, top, 10, listPage, "https://example.com/").
		Insert(1, top, 120, "/html/body/ul", "<li>b</li>").
		Resource(ir.Resource{TabID: 1, FrameID: top, Timestamp: 110, URL: "https://example.com/a", ResourceType: "XHR"})

	obs := Extract(context.Background(), log, 1, window).Frames[top]
	sorted := append([]ir.Observation(nil), obs...)
	ir.SortAssertions(sorted)
	assert.Equal(t, sorted, obs)
	assert.Equal(t, ir.KindResource, obs[0].Type)
}
