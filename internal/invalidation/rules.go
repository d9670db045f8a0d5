package invalidation

import (
	"fmt"
	"sort"

	"github.com/loyaltyconsole/livesync/internal/event"
)

// Cache key prefixes used by the console's reads.
const (
	PrefixTransactions   = "transactions"
	PrefixDashboardStats = "dashboardStats"
	PrefixPromotions     = "promotions"
	PrefixLocations      = "locations"
	PrefixPartners       = "partners"
	PrefixNotifications  = "notifications"
)

// Rules maps a topic to the cache-key prefixes it invalidates.
type Rules map[event.Topic][]string

// DefaultRules returns the console's rule table.
func DefaultRules() Rules {
	return Rules{
		event.TopicTransaction:     {PrefixTransactions, PrefixDashboardStats},
		event.TopicPromotionUpdate: {PrefixPromotions, PrefixDashboardStats},
		event.TopicLocationUpdate:  {PrefixLocations, PrefixPartners},
		event.TopicNotification:    {PrefixNotifications},
	}
}

// RulesFromConfig builds a rule table from topic → prefixes strings.
// Topics must belong to the known set and every topic needs a prefix.
func RulesFromConfig(raw map[string][]string) (Rules, error) {
	rules := make(Rules, len(raw))
	for name, prefixes := range raw {
		topic := event.Topic(name)
		if !topic.Known() {
			return nil, fmt.Errorf("unknown topic %q", name)
		}
		if len(prefixes) == 0 {
			return nil, fmt.Errorf("topic %q has no prefixes", name)
		}
		seen := make(map[string]struct{}, len(prefixes))
		for _, p := range prefixes {
			if p == "" {
				return nil, fmt.Errorf("topic %q has an empty prefix", name)
			}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			rules[topic] = append(rules[topic], p)
		}
	}
	return rules, nil
}

// Prefixes returns the prefixes for topic, or nil for unmapped topics.
func (r Rules) Prefixes(topic event.Topic) []string {
	return r[topic]
}

// Topics returns the mapped topics in a stable order.
func (r Rules) Topics() []event.Topic {
	topics := make([]event.Topic, 0, len(r))
	for t := range r {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return topics
}

// AllPrefixes returns every distinct prefix in the table, sorted.
func (r Rules) AllPrefixes() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, prefixes := range r {
		for _, p := range prefixes {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
