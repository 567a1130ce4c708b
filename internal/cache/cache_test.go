package cache

import (
	"testing"

	"github.com/projecthelena/pulsewarden/internal/config"
	"github.com/projecthelena/pulsewarden/internal/kinds"
)

func docWith(monitors []config.Monitor, groups []config.Group) *config.Document {
	doc := config.Defaults()
	doc.Monitors = monitors
	doc.Groups = groups
	return &doc
}

func TestBuildIndexesByIDTokenAndParent(t *testing.T) {
	doc := docWith(
		[]config.Monitor{
			{ID: "m1", Token: "tok1", GroupID: "g1", Interval: 30, ToleranceFactor: 1},
			{ID: "m2", Token: "tok2", GroupID: "g1", Interval: 30, ToleranceFactor: 1},
		},
		[]config.Group{{ID: "g1", Strategy: config.StrategyAnyUp}},
	)

	c, err := Build(doc)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if _, ok := c.MonitorByID("m1"); !ok {
		t.Error("expected m1 findable by id")
	}
	if m, ok := c.MonitorByToken("tok2"); !ok || m.ID != "m2" {
		t.Error("expected tok2 to resolve to m2")
	}
	children := c.ChildrenOf("g1")
	if len(children) != 2 {
		t.Errorf("expected 2 children of g1, got %v", children)
	}
}

func TestBuildStatusPagesContaining(t *testing.T) {
	doc := docWith([]config.Monitor{{ID: "m1", Token: "t1", Interval: 30, ToleranceFactor: 1}}, nil)
	doc.StatusPages = []config.StatusPage{{Slug: "public", Items: []string{"m1"}}}

	c, err := Build(doc)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	slugs := c.StatusPagesContaining("m1")
	if len(slugs) != 1 || slugs[0] != "public" {
		t.Errorf("expected m1 to be on status page 'public', got %v", slugs)
	}
}

func TestLevelsNoDependencies(t *testing.T) {
	doc := docWith([]config.Monitor{
		{ID: "m1", Token: "t1", Interval: 30, ToleranceFactor: 1},
	}, nil)

	c, err := Build(doc)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if c.Level("m1") != 0 {
		t.Errorf("expected level 0 for dependency-free monitor, got %d", c.Level("m1"))
	}
}

func TestLevelsChainedDependencies(t *testing.T) {
	doc := docWith([]config.Monitor{
		{ID: "m1", Token: "t1", Interval: 30, ToleranceFactor: 1},
		{ID: "m2", Token: "t2", Interval: 30, ToleranceFactor: 1, Dependencies: []string{"m1"}},
		{ID: "m3", Token: "t3", Interval: 30, ToleranceFactor: 1, Dependencies: []string{"m2"}},
	}, nil)

	c, err := Build(doc)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if c.Level("m1") != 0 || c.Level("m2") != 1 || c.Level("m3") != 2 {
		t.Fatalf("unexpected levels: m1=%d m2=%d m3=%d", c.Level("m1"), c.Level("m2"), c.Level("m3"))
	}

	ordered := c.MonitorsByLevelAscending()
	if ordered[0].ID != "m1" || ordered[len(ordered)-1].ID != "m3" {
		t.Errorf("expected ascending level order m1..m3, got %+v", ordered)
	}
}

func TestLevelsRejectsCycle(t *testing.T) {
	doc := docWith([]config.Monitor{
		{ID: "m1", Token: "t1", Interval: 30, ToleranceFactor: 1, Dependencies: []string{"m2"}},
		{ID: "m2", Token: "t2", Interval: 30, ToleranceFactor: 1, Dependencies: []string{"m1"}},
	}, nil)

	_, err := Build(doc)
	if kinds.Of(err) != kinds.ConfigInvalid {
		t.Fatalf("expected ConfigInvalid for dependency cycle, got %v", err)
	}
}

func TestLevelsIgnoreUnknownDependency(t *testing.T) {
	doc := docWith([]config.Monitor{
		{ID: "m1", Token: "t1", Interval: 30, ToleranceFactor: 1, Dependencies: []string{"does-not-exist"}},
	}, nil)

	c, err := Build(doc)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if c.Level("m1") != 0 {
		t.Errorf("expected level 0 when dependency is unresolvable, got %d", c.Level("m1"))
	}
}
