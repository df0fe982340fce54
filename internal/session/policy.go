package session

import (
	"regexp"
	"strings"
	"time"
)

// Policy is the behaviour snapshot a Supervisor is created with. It is copied
// on creation and never read from shared configuration again; the only
// runtime override is ToggleProtection.
type Policy struct {
	Host    string
	Port    int
	Version string

	Reconnect  ReconnectPolicy
	AntiAFK    AntiAFKPolicy
	Sustain    SustainPolicy
	Threat     ThreatPolicy
	Protection ProtectionPolicy
	Lobby      LobbyPolicy
	Move       MovePolicy
}

type ReconnectPolicy struct {
	Enabled               bool
	Delay                 time.Duration
	MaxAttempts           int
	DuplicateSessionDelay time.Duration
	DuplicateSignatures   []string // case-insensitive substrings of the kick reason
	RestartDelay          time.Duration
}

type AntiAFKPolicy struct {
	Enabled  bool
	Interval time.Duration
	Control  string
}

type SustainPolicy struct {
	Enabled        bool
	Interval       time.Duration
	Threshold      int
	Timeout        time.Duration
	TimeoutBackoff time.Duration
	StuckAfter     int // consecutive timeouts before StuckBackoff applies
	StuckBackoff   time.Duration
	ErrorBackoff   time.Duration
	Items          []string
}

type ThreatPolicy struct {
	Enabled           bool
	ScanInterval      time.Duration
	AlertDistance     float64
	EmergencyDistance float64
	AlertCooldown     time.Duration
	BurstCount        int
	BurstInterval     time.Duration
	Whitelist         []string
}

type ProtectionPolicy struct {
	Enabled        bool // default for slots without an override
	ToolKeywords   []string
	BlockTypes     []string
	Radius         float64
	MaxBlocks      int
	ReserveSlots   int
	InventorySlots int
	ActionDelay    time.Duration
	ActionTimeout  time.Duration
}

type LobbyPolicy struct {
	Enabled               bool
	DisplacementThreshold float64
	RecoveryThreshold     float64
	Grace                 time.Duration
	RetryInterval         time.Duration
	ReturnCommand         string
	ChatPatterns          []string
	ChatCheckDelay        time.Duration
}

type MovePolicy struct {
	Timeout      time.Duration
	PollInterval time.Duration
	MaxDistance  float64
}

// DefaultFoods is the sustenance item set used when none is configured
var DefaultFoods = []string{
	"cooked_beef", "cooked_porkchop", "cooked_mutton", "cooked_chicken",
	"cooked_salmon", "cooked_cod", "cooked_rabbit", "baked_potato", "bread",
	"golden_carrot", "carrot", "apple", "golden_apple", "pumpkin_pie",
	"mushroom_stew", "beetroot_soup", "rabbit_stew", "sweet_berries",
	"melon_slice", "cookie", "potato", "beef", "porkchop", "mutton", "chicken",
}

// DefaultPolicy returns the stock behaviour parameters
func DefaultPolicy() Policy {
	return Policy{
		Port: 25565,
		Reconnect: ReconnectPolicy{
			Enabled:               true,
			Delay:                 10 * time.Second,
			MaxAttempts:           10,
			DuplicateSessionDelay: 65 * time.Second,
			DuplicateSignatures: []string{
				"logged in from another location",
				"already connected",
				"duplicate login",
			},
			RestartDelay: 3 * time.Second,
		},
		AntiAFK: AntiAFKPolicy{
			Enabled:  true,
			Interval: 30 * time.Second,
			Control:  "jump",
		},
		Sustain: SustainPolicy{
			Enabled:        true,
			Interval:       2 * time.Second,
			Threshold:      14,
			Timeout:        10 * time.Second,
			TimeoutBackoff: 30 * time.Second,
			StuckAfter:     3,
			StuckBackoff:   60 * time.Second,
			ErrorBackoff:   10 * time.Second,
			Items:          DefaultFoods,
		},
		Threat: ThreatPolicy{
			Enabled:           true,
			ScanInterval:      time.Second,
			AlertDistance:     48,
			EmergencyDistance: 12,
			AlertCooldown:     60 * time.Second,
			BurstCount:        3,
			BurstInterval:     2 * time.Second,
		},
		Protection: ProtectionPolicy{
			Enabled:        false,
			ToolKeywords:   []string{"pickaxe"},
			BlockTypes:     []string{"spawner"},
			Radius:         6,
			MaxBlocks:      16,
			ReserveSlots:   1,
			InventorySlots: 36,
			ActionDelay:    250 * time.Millisecond,
			ActionTimeout:  10 * time.Second,
		},
		Lobby: LobbyPolicy{
			Enabled:               true,
			DisplacementThreshold: 150,
			RecoveryThreshold:     16,
			Grace:                 5 * time.Second,
			RetryInterval:         20 * time.Second,
			ReturnCommand:         "/home",
			ChatPatterns:          []string{`(?i)teleport`, `(?i)sending you to`, `(?i)lobby`},
			ChatCheckDelay:        2 * time.Second,
		},
		Move: MovePolicy{
			Timeout:      15 * time.Second,
			PollInterval: 100 * time.Millisecond,
			MaxDistance:  64,
		},
	}
}

// snapshot is the immutable per-slot copy of a Policy with derived lookups
type snapshot struct {
	Policy
	whitelist  map[string]struct{}
	foods      map[string]struct{}
	duplicates []string
	lobbyChat  []*regexp.Regexp
}

func newSnapshot(p Policy) (*snapshot, error) {
	s := &snapshot{Policy: p}
	s.Reconnect.DuplicateSignatures = clone(p.Reconnect.DuplicateSignatures)
	s.Sustain.Items = clone(p.Sustain.Items)
	s.Threat.Whitelist = clone(p.Threat.Whitelist)
	s.Protection.ToolKeywords = clone(p.Protection.ToolKeywords)
	s.Protection.BlockTypes = clone(p.Protection.BlockTypes)
	s.Lobby.ChatPatterns = clone(p.Lobby.ChatPatterns)

	s.whitelist = lowerSet(p.Threat.Whitelist)
	s.foods = lowerSet(p.Sustain.Items)
	for _, sig := range p.Reconnect.DuplicateSignatures {
		s.duplicates = append(s.duplicates, strings.ToLower(sig))
	}
	for _, pat := range p.Lobby.ChatPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, err
		}
		s.lobbyChat = append(s.lobbyChat, re)
	}
	return s, nil
}

func (s *snapshot) isWhitelisted(name string) bool {
	_, ok := s.whitelist[strings.ToLower(name)]
	return ok
}

func (s *snapshot) isDuplicateSession(reason string) bool {
	reason = strings.ToLower(reason)
	for _, sig := range s.duplicates {
		if sig != "" && strings.Contains(reason, sig) {
			return true
		}
	}
	return false
}

func (s *snapshot) isTeleportNotice(text string) bool {
	for _, re := range s.lobbyChat {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func lowerSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

func clone(s []string) []string {
	return append([]string(nil), s...)
}
