package normalize

// Level is a position in the ordered experience taxonomy.
type Level int

// Levels from least to most senior. LevelUnknown sorts before all of them.
const (
	LevelUnknown Level = iota
	LevelInternship
	LevelEntry
	LevelMid
	LevelSenior
	LevelExecutive
)

var levelNames = [...]string{"", "Internship", "Entry", "Mid", "Senior", "Executive"}

func (l Level) String() string {
	if l < LevelUnknown || l > LevelExecutive {
		return ""
	}
	return levelNames[l]
}

// baseTerms map single tokens to a level. Phrases live in basePhrases.
var baseTerms = map[string]Level{
	"intern":         LevelInternship,
	"internship":     LevelInternship,
	"stagiaire":      LevelInternship,
	"stage":          LevelInternship,
	"pasantia":       LevelInternship,
	"praktikum":      LevelInternship,
	"trainee":        LevelEntry,
	"graduate":       LevelEntry,
	"assistant":      LevelEntry,
	"associate":      LevelEntry,
	"volunteer":      LevelEntry,
	"fellow":         LevelEntry,
	"officer":        LevelMid,
	"specialist":     LevelMid,
	"analyst":        LevelMid,
	"engineer":       LevelMid,
	"developer":      LevelMid,
	"coordinator":    LevelMid,
	"advisor":        LevelMid,
	"adviser":        LevelMid,
	"consultant":     LevelMid,
	"manager":        LevelSenior,
	"expert":         LevelSenior,
	"director":       LevelExecutive,
	"representative": LevelExecutive,
	"president":      LevelExecutive,
	"ceo":            LevelExecutive,
	"cto":            LevelExecutive,
	"cfo":            LevelExecutive,
	"coo":            LevelExecutive,
}

var basePhrases = map[string]Level{
	"entry level":      LevelEntry,
	"entry-level":      LevelEntry,
	"mid level":        LevelMid,
	"mid-level":        LevelMid,
	"country director": LevelExecutive,
	"vice president":   LevelExecutive,
}

// Structured level codes seen in feeds and APIs.
var codeTerms = map[string]Level{
	"p1": LevelEntry, "p2": LevelEntry, "g5": LevelEntry, "g6": LevelEntry,
	"p3": LevelMid, "p4": LevelMid, "no-b": LevelMid, "no-c": LevelMid,
	"p5": LevelSenior, "p6": LevelSenior, "no-d": LevelSenior,
	"d1": LevelExecutive, "d2": LevelExecutive,
	"junior": LevelEntry, "mid": LevelMid, "senior": LevelSenior,
	"executive": LevelExecutive, "internship": LevelInternship,
}

var (
	upModifiers   = map[string]bool{"senior": true, "sr": true, "lead": true, "principal": true, "staff": true}
	downModifiers = map[string]bool{"junior": true, "jr": true}
	execPhrases   = []string{"chief", "head of", "vice president"}
)

// ParseLevel maps free text (usually the title, optionally combined with an
// explicit level field) to the taxonomy. A modifier shifts the level of the
// base term it accompanies rather than matching on its own, unless no base
// term is present.
func ParseLevel(texts ...string) Level {
	var best Level
	for _, text := range texts {
		if l := parseOne(text); l > best {
			best = l
		}
	}
	return best
}

func parseOne(text string) Level {
	folded := fold(text)
	if folded == "" {
		return LevelUnknown
	}
	if l, ok := codeTerms[folded]; ok {
		return l
	}
	for _, phrase := range execPhrases {
		if containsWord(folded, phrase) {
			return LevelExecutive
		}
	}

	base := LevelUnknown
	for phrase, l := range basePhrases {
		if containsWord(folded, phrase) && l > base {
			base = l
		}
	}
	shift := 0
	for _, w := range words(folded) {
		if l, ok := baseTerms[w]; ok && l > base {
			base = l
		}
		if upModifiers[w] {
			shift = 1
		}
		if downModifiers[w] && shift == 0 {
			shift = -1
		}
	}
	if base == LevelUnknown {
		switch {
		case shift > 0:
			return LevelSenior
		case shift < 0:
			return LevelEntry
		}
		return LevelUnknown
	}
	// Interns never get promoted by a modifier.
	if base == LevelInternship {
		return base
	}
	l := base + Level(shift)
	if l < LevelEntry {
		l = LevelEntry
	}
	// Modifiers never promote past Senior on their own.
	if l > LevelSenior && base < LevelExecutive {
		l = LevelSenior
	}
	return l
}
