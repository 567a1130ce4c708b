// Package cache implements the Configuration Cache (C1): in-memory indexes
// built from a parsed configuration document, plus the dependency DAG used
// to order evaluation and the hot-reload swap that keeps those indexes
// atomic and consistent.
package cache

import (
	"sort"

	"github.com/projecthelena/pulsewarden/internal/config"
	"github.com/projecthelena/pulsewarden/internal/kinds"
)

// Cache is an immutable snapshot of one configuration document plus its
// derived indexes. A new Cache is built on every successful reload; callers
// never mutate one in place.
type Cache struct {
	doc *config.Document

	monitorsByID map[string]config.Monitor
	groupsByID   map[string]config.Group
	pagesBySlug  map[string]config.StatusPage
	channelsByID map[string]config.NotificationChannel
	monitorsByToken map[string]config.Monitor

	childrenOf map[string][]string // group/monitor parentId -> child entity IDs
	pagesOf    map[string][]string // entity ID -> status page slugs containing it

	levels        map[string]int
	monitorsByLvl []config.Monitor // monitors only, ascending level
}

// Document returns the configuration document this snapshot was built from.
func (c *Cache) Document() *config.Document { return c.doc }

func (c *Cache) MonitorByID(id string) (config.Monitor, bool) {
	m, ok := c.monitorsByID[id]
	return m, ok
}

func (c *Cache) MonitorByToken(token string) (config.Monitor, bool) {
	m, ok := c.monitorsByToken[token]
	return m, ok
}

func (c *Cache) GroupByID(id string) (config.Group, bool) {
	g, ok := c.groupsByID[id]
	return g, ok
}

func (c *Cache) StatusPageBySlug(slug string) (config.StatusPage, bool) {
	p, ok := c.pagesBySlug[slug]
	return p, ok
}

func (c *Cache) ChannelByID(id string) (config.NotificationChannel, bool) {
	ch, ok := c.channelsByID[id]
	return ch, ok
}

// ChildrenOf returns the IDs of monitors and sub-groups whose parentId is
// groupID, in configuration order.
func (c *Cache) ChildrenOf(groupID string) []string {
	return c.childrenOf[groupID]
}

// StatusPagesContaining returns the slugs of status pages that list
// entityID among their items.
func (c *Cache) StatusPagesContaining(entityID string) []string {
	return c.pagesOf[entityID]
}

// Level returns the dependency level of an entity: 0 if it has no
// dependencies, else 1 + max(level of its dependencies).
func (c *Cache) Level(entityID string) int {
	return c.levels[entityID]
}

// MonitorsByLevelAscending returns every monitor ordered so that a
// monitor's dependencies are always evaluated before it.
func (c *Cache) MonitorsByLevelAscending() []config.Monitor {
	return c.monitorsByLvl
}

func (c *Cache) AllGroups() []config.Group {
	groups := make([]config.Group, 0, len(c.doc.Groups))
	groups = append(groups, c.doc.Groups...)
	return groups
}

func (c *Cache) AllStatusPages() []config.StatusPage {
	pages := make([]config.StatusPage, 0, len(c.doc.StatusPages))
	pages = append(pages, c.doc.StatusPages...)
	return pages
}

// Build constructs a Cache from a validated configuration document. It
// rejects dependency cycles with kinds.ConfigInvalid (§4.1: "cycles are
// rejected at load").
func Build(doc *config.Document) (*Cache, error) {
	c := &Cache{
		doc:             doc,
		monitorsByID:    make(map[string]config.Monitor, len(doc.Monitors)),
		groupsByID:      make(map[string]config.Group, len(doc.Groups)),
		pagesBySlug:     make(map[string]config.StatusPage, len(doc.StatusPages)),
		channelsByID:    make(map[string]config.NotificationChannel, len(doc.NotificationChannels)),
		monitorsByToken: make(map[string]config.Monitor, len(doc.Monitors)),
		childrenOf:      make(map[string][]string),
		pagesOf:         make(map[string][]string),
		levels:          make(map[string]int),
	}

	deps := make(map[string][]string)

	for _, m := range doc.Monitors {
		c.monitorsByID[m.ID] = m
		c.monitorsByToken[m.Token] = m
		deps[m.ID] = m.Dependencies
		if m.GroupID != "" {
			c.childrenOf[m.GroupID] = append(c.childrenOf[m.GroupID], m.ID)
		}
	}

	// The self-monitor is a synthetic, token-less row (§4.7): it never
	// arrives via config.toml, so it is registered here instead of in the
	// doc.Monitors loop above, keeping its up/down state on the same
	// StatusCache/notification path as any configured monitor.
	selfMon := config.Monitor{
		ID:                   config.SelfMonitorID,
		Name:                 "Self-Monitor",
		Interval:             int(doc.SelfMonitor.Interval.Seconds()),
		ToleranceFactor:      doc.SelfMonitor.ToleranceFactor,
		ResendNotification:   doc.SelfMonitor.ResendNotification,
		NotificationChannels: doc.SelfMonitor.NotificationChannels,
	}
	c.monitorsByID[selfMon.ID] = selfMon
	deps[selfMon.ID] = nil

	for _, g := range doc.Groups {
		c.groupsByID[g.ID] = g
		deps[g.ID] = g.Dependencies
		if g.ParentID != "" {
			c.childrenOf[g.ParentID] = append(c.childrenOf[g.ParentID], g.ID)
		}
	}
	for _, p := range doc.StatusPages {
		c.pagesBySlug[p.Slug] = p
		for _, item := range p.Items {
			c.pagesOf[item] = append(c.pagesOf[item], p.Slug)
		}
	}
	for _, ch := range doc.NotificationChannels {
		c.channelsByID[ch.ID] = ch
	}

	levels, err := computeLevels(deps)
	if err != nil {
		return nil, err
	}
	c.levels = levels

	monitors := make([]config.Monitor, 0, len(doc.Monitors)+1)
	monitors = append(monitors, doc.Monitors...)
	monitors = append(monitors, selfMon)
	sort.SliceStable(monitors, func(i, j int) bool {
		return c.levels[monitors[i].ID] < c.levels[monitors[j].ID]
	})
	c.monitorsByLvl = monitors

	return c, nil
}

// computeLevels assigns level(e) = 0 if e has no dependencies, else
// 1 + max(level(dep)) across e's dependencies. A dependency edge to an ID
// absent from the graph is ignored (it resolves to level 0, matching an
// entity with no further deps of its own). Cycles are detected via a
// recursion-stack DFS and rejected.
func computeLevels(deps map[string][]string) (map[string]int, error) {
	levels := make(map[string]int, len(deps))
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(deps))

	var visit func(id string) (int, error)
	visit = func(id string) (int, error) {
		switch state[id] {
		case done:
			return levels[id], nil
		case visiting:
			return 0, kinds.New(kinds.ConfigInvalid, "dependency cycle detected at "+id)
		}
		state[id] = visiting

		maxDepLevel := -1
		for _, depID := range deps[id] {
			if _, known := deps[depID]; !known {
				continue
			}
			lvl, err := visit(depID)
			if err != nil {
				return 0, err
			}
			if lvl > maxDepLevel {
				maxDepLevel = lvl
			}
		}

		level := 0
		if maxDepLevel >= 0 {
			level = maxDepLevel + 1
		}
		levels[id] = level
		state[id] = done
		return level, nil
	}

	for id := range deps {
		if _, err := visit(id); err != nil {
			return nil, err
		}
	}
	return levels, nil
}
