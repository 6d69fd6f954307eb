package normalizer

import "strings"

var romaji = map[string]string{
	"a": "ア", "i": "イ", "u": "ウ", "e": "エ", "o": "オ",
	"ka": "カ", "ki": "キ", "ku": "ク", "ke": "ケ", "ko": "コ",
	"ga": "ガ", "gi": "ギ", "gu": "グ", "ge": "ゲ", "go": "ゴ",
	"sa": "サ", "si": "シ", "shi": "シ", "su": "ス", "se": "セ", "so": "ソ",
	"za": "ザ", "zi": "ジ", "ji": "ジ", "zu": "ズ", "ze": "ゼ", "zo": "ゾ",
	"ta": "タ", "ti": "チ", "chi": "チ", "tu": "ツ", "tsu": "ツ", "te": "テ", "to": "ト",
	"da": "ダ", "di": "ヂ", "du": "ヅ", "de": "デ", "do": "ド",
	"na": "ナ", "ni": "ニ", "nu": "ヌ", "ne": "ネ", "no": "ノ",
	"ha": "ハ", "hi": "ヒ", "hu": "フ", "fu": "フ", "he": "ヘ", "ho": "ホ",
	"ba": "バ", "bi": "ビ", "bu": "ブ", "be": "ベ", "bo": "ボ",
	"pa": "パ", "pi": "ピ", "pu": "プ", "pe": "ペ", "po": "ポ",
	"ma": "マ", "mi": "ミ", "mu": "ム", "me": "メ", "mo": "モ",
	"ya": "ヤ", "yu": "ユ", "yo": "ヨ",
	"ra": "ラ", "ri": "リ", "ru": "ル", "re": "レ", "ro": "ロ",
	"wa": "ワ", "wo": "ヲ", "n'": "ン",
	"va": "ヴァ", "vi": "ヴィ", "vu": "ヴ", "ve": "ヴェ", "vo": "ヴォ",
	"fa": "ファ", "fi": "フィ", "fe": "フェ", "fo": "フォ",
	"kya": "キャ", "kyu": "キュ", "kyo": "キョ",
	"gya": "ギャ", "gyu": "ギュ", "gyo": "ギョ",
	"sha": "シャ", "shu": "シュ", "sho": "ショ", "sya": "シャ", "syu": "シュ", "syo": "ショ",
	"ja": "ジャ", "ju": "ジュ", "jo": "ジョ", "zya": "ジャ", "zyu": "ジュ", "zyo": "ジョ",
	"cha": "チャ", "chu": "チュ", "cho": "チョ", "tya": "チャ", "tyu": "チュ", "tyo": "チョ",
	"nya": "ニャ", "nyu": "ニュ", "nyo": "ニョ",
	"hya": "ヒャ", "hyu": "ヒュ", "hyo": "ヒョ",
	"bya": "ビャ", "byu": "ビュ", "byo": "ビョ",
	"pya": "ピャ", "pyu": "ピュ", "pyo": "ピョ",
	"mya": "ミャ", "myu": "ミュ", "myo": "ミョ",
	"rya": "リャ", "ryu": "リュ", "ryo": "リョ",
	"-": "ー",
}

func isVowel(c byte) bool {
	return c == 'a' || c == 'i' || c == 'u' || c == 'e' || c == 'o'
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z'
}

// romajiToKatakana converts runs of lower-case romaji. A doubled consonant
// becomes a small tsu and a lone n before a consonant becomes ン. Trailing
// consonants that can't start a complete syllable are dropped so that a
// partially typed reading still works as a prefix.
func romajiToKatakana(s string) string {
	if !strings.ContainsFunc(s, func(r rune) bool { return r >= 'a' && r <= 'z' }) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) * 2)
	for i := 0; i < len(s); {
		c := s[i]
		if !isLetter(c) && c != '-' {
			b.WriteByte(c)
			i++
			continue
		}

		if c == 'n' && i+1 < len(s) && s[i+1] == 'n' {
			b.WriteString("ン")
			if i+2 < len(s) && (isVowel(s[i+2]) || s[i+2] == 'y') {
				i++
			} else {
				i += 2
			}
			continue
		}

		matched := false
		for n := 3; n >= 1; n-- {
			if i+n > len(s) {
				continue
			}
			if kana, ok := romaji[s[i:i+n]]; ok {
				b.WriteString(kana)
				i += n
				matched = true
				break
			}
		}
		if matched {
			continue
		}

		switch {
		case c == 'n' && i+1 < len(s) && isLetter(s[i+1]) && !isVowel(s[i+1]) && s[i+1] != 'y':
			b.WriteString("ン")
		case c == 'n' && i+1 == len(s):
			b.WriteString("ン")
		case i+1 < len(s) && s[i+1] == c && !isVowel(c):
			b.WriteString("ッ")
		case c == 't' && i+1 < len(s) && s[i+1] == 'c':
			b.WriteString("ッ")
		case i+1 < len(s) && isLetter(s[i+1]):
			// consonant cluster such as "ts" or "sh" waiting for a vowel
		case !isLetter(c):
			b.WriteByte(c)
		}
		i++
	}
	return b.String()
}
