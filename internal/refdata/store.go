// Package refdata holds the item reference tables (classes, base types and
// stat translations) and keeps them up to date.
package refdata

import (
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/maypok86/otter"
)

// DefaultCategory is the catch-all category always offered for filtering.
const DefaultCategory = "Any"

const modCacheSize = 8192

var (
	numberRe      = regexp.MustCompile(`\d+(?:\.\d+)?`)
	placeholderRe = regexp.MustCompile(`\{(\d+)\}`)
	spaceRe       = regexp.MustCompile(`\s+`)
)

type modMatch struct {
	pattern string
	values  []float64
	ok      bool
}

// Store is the in-memory reference data context. It is safe for
// concurrent use; readers never block each other.
type Store struct {
	mu              sync.RWMutex
	classKeyToName  map[string]string
	classNameToKey  map[string]string
	baseTypeToClass map[string]string
	categories      []string
	mods            map[string]struct{}

	modCache otter.Cache[string, modMatch]
}

// NewStore returns an empty store.
func NewStore() *Store {
	cache, err := otter.MustBuilder[string, modMatch](modCacheSize).
		Cost(func(_ string, _ modMatch) uint32 { return 1 }).
		Build()
	if err != nil {
		panic("refdata: failed to create mod cache: " + err.Error())
	}
	return &Store{
		classKeyToName:  map[string]string{},
		classNameToKey:  map[string]string{},
		baseTypeToClass: map[string]string{},
		mods:            map[string]struct{}{},
		modCache:        cache,
	}
}

// ApplyItemClasses replaces the item class tables from an item_classes
// document.
func (s *Store) ApplyItemClasses(data []byte) error {
	var doc map[string]struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("refdata: parse item classes: %w", err)
	}

	keyToName := make(map[string]string, len(doc))
	nameToKey := make(map[string]string, len(doc))
	seen := map[string]struct{}{}
	for key, entry := range doc {
		if strings.HasPrefix(key, "DONOTUSE") || strings.EqualFold(key, "Unarmed") {
			continue
		}
		if entry.Name == "" {
			continue
		}
		keyToName[key] = entry.Name
		nameToKey[entry.Name] = key
		seen[entry.Name] = struct{}{}
	}
	seen[DefaultCategory] = struct{}{}
	categories := make([]string, 0, len(seen))
	for name := range seen {
		categories = append(categories, name)
	}
	sort.Strings(categories)

	s.mu.Lock()
	if len(s.classKeyToName) > 0 {
		log.Println("[refdata] item classes already loaded, replacing")
	}
	s.classKeyToName = keyToName
	s.classNameToKey = nameToKey
	s.categories = categories
	s.mu.Unlock()
	log.Printf("[refdata] loaded %d item classes", len(keyToName))
	return nil
}

// ApplyBaseTypes replaces the base type table from a base_items document.
func (s *Store) ApplyBaseTypes(data []byte) error {
	var doc map[string]struct {
		Name         string `json:"name"`
		ItemClass    string `json:"item_class"`
		ReleaseState string `json:"release_state"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("refdata: parse base types: %w", err)
	}

	baseTypes := make(map[string]string, len(doc))
	for _, entry := range doc {
		if strings.EqualFold(entry.ReleaseState, "unreleased") {
			continue
		}
		if entry.Name == "" ||
			strings.HasPrefix(entry.Name, "[DO NOT USE]") ||
			strings.HasPrefix(entry.Name, "[UNUSED]") ||
			strings.HasPrefix(entry.Name, "[DNT]") {
			continue
		}
		baseTypes[entry.Name] = entry.ItemClass
	}

	s.mu.Lock()
	s.baseTypeToClass = baseTypes
	s.mu.Unlock()
	log.Printf("[refdata] loaded %d base types", len(baseTypes))
	return nil
}

type statTranslation struct {
	English []struct {
		Format []string `json:"format"`
		String string   `json:"string"`
	} `json:"English"`
}

// AddStatTranslations adds every English stat line of a stat_translations
// document to the mod dictionary. Placeholders become their format ("#" or
// "+#"); ignored placeholders are dropped.
func (s *Store) AddStatTranslations(data []byte) error {
	var doc []statTranslation
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("refdata: parse stat translations: %w", err)
	}

	added := 0
	s.mu.Lock()
	for _, tr := range doc {
		for _, variant := range tr.English {
			line := RenderStatString(variant.String, variant.Format)
			if line == "" {
				continue
			}
			for _, part := range strings.Split(line, "\n") {
				if part = strings.TrimSpace(part); part == "" {
					continue
				}
				if _, ok := s.mods[part]; !ok {
					s.mods[part] = struct{}{}
					added++
				}
			}
		}
	}
	total := len(s.mods)
	s.modCache.Clear()
	s.mu.Unlock()

	log.Printf("[refdata] added %d stat translations (%d total)", added, total)
	return nil
}

// RenderStatString substitutes the "{n}" placeholders of a translation.
func RenderStatString(str string, formats []string) string {
	out := placeholderRe.ReplaceAllStringFunc(str, func(m string) string {
		idx, err := strconv.Atoi(m[1 : len(m)-1])
		if err != nil || idx >= len(formats) {
			return "#"
		}
		if formats[idx] == "ignore" {
			return ""
		}
		return formats[idx]
	})
	lines := strings.Split(out, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(spaceRe.ReplaceAllString(l, " "))
	}
	return strings.Join(lines, "\n")
}

// ItemCategory returns the lowercased class name of baseType, or "" when
// the base type is unknown or the tables are not loaded.
func (s *Store) ItemCategory(baseType string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.classKeyToName) == 0 {
		log.Println("[refdata] error: item classes have not been loaded")
		return ""
	}
	if len(s.baseTypeToClass) == 0 {
		log.Println("[refdata] error: item base types have not been loaded")
		return ""
	}
	key, ok := s.baseTypeToClass[baseType]
	if !ok {
		return ""
	}
	name, ok := s.classKeyToName[key]
	if !ok {
		return ""
	}
	return strings.ToLower(name)
}

// Categories returns the sorted category names, including DefaultCategory.
func (s *Store) Categories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.categories...)
}

// MatchMod normalizes the numbers of a mod line to "#" and looks the
// result up in the mod dictionary. It returns the pattern and the numbers
// found in the line.
func (s *Store) MatchMod(line string) (string, []float64, bool) {
	if m, ok := s.modCache.Get(line); ok {
		return m.pattern, m.values, m.ok
	}

	pattern, values := NormalizeMod(line)
	// The entry is stored under the read lock so a concurrent
	// AddStatTranslations cannot clear the cache in between.
	s.mu.RLock()
	_, known := s.mods[pattern]
	m := modMatch{pattern: pattern, values: values, ok: known}
	s.modCache.Set(line, m)
	s.mu.RUnlock()
	return m.pattern, m.values, m.ok
}

// NormalizeMod replaces every number in line with "#" and returns the
// numbers. A leading '-' directly before a number is kept in the pattern
// and negates the value.
func NormalizeMod(line string) (string, []float64) {
	line = strings.TrimSpace(line)
	var values []float64
	pattern := numberRe.ReplaceAllStringFunc(line, func(m string) string {
		v, err := strconv.ParseFloat(m, 64)
		if err == nil {
			values = append(values, v)
		}
		return "#"
	})
	for i, idx := 0, 0; i < len(values); i++ {
		pos := strings.Index(pattern[idx:], "#")
		if pos < 0 {
			break
		}
		pos += idx
		if pos > 0 && pattern[pos-1] == '-' && (pos == 1 || pattern[pos-2] == ' ' || pattern[pos-2] == '(') {
			values[i] = -values[i]
		}
		idx = pos + 1
	}
	return pattern, values
}

// Loaded reports whether item classes and base types are present.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.classKeyToName) > 0 && len(s.baseTypeToClass) > 0
}

// Stats summarizes the table sizes.
type Stats struct {
	ItemClasses      int  `json:"item_classes"`
	BaseTypes        int  `json:"base_types"`
	StatTranslations int  `json:"stat_translations"`
	Loaded           bool `json:"loaded"`
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		ItemClasses:      len(s.classKeyToName),
		BaseTypes:        len(s.baseTypeToClass),
		StatTranslations: len(s.mods),
		Loaded:           len(s.classKeyToName) > 0 && len(s.baseTypeToClass) > 0,
	}
}
