package protocol

import "wbuoj/internal/judge/model"

// Language describes how workers compile and run one supported language.
// Internal code uses the string key; the wire protocol uses the numeric id.
type Language struct {
	Key                string
	WireID             int
	Display            string
	SourceFile         string
	CompileCmd         string
	ExecuteCmd         string
	CompileTimeLimitMS int
	CompileMemoryKB    int
}

// languageTable is the fixed descriptor table. Order defines the order the
// table is pushed to workers.
var languageTable = []Language{
	{
		Key:        "c",
		WireID:     1,
		Display:    "C (GCC)",
		SourceFile: "main.c",
		CompileCmd: "gcc main.c -o main -O2 -std=c11 -static -lm",
		ExecuteCmd: "./main",
	},
	{
		Key:        "cpp",
		WireID:     2,
		Display:    "C++ (G++)",
		SourceFile: "main.cpp",
		CompileCmd: "g++ main.cpp -o main -O2 -std=c++17 -static",
		ExecuteCmd: "./main",
	},
	{
		Key:                "java",
		WireID:             3,
		Display:            "Java",
		SourceFile:         "Main.java",
		CompileCmd:         "javac Main.java",
		ExecuteCmd:         "java -Xss64m Main",
		CompileTimeLimitMS: 10000,
		CompileMemoryKB:    524288,
	},
	{
		Key:        "py3",
		WireID:     4,
		Display:    "Python 3",
		SourceFile: "main.py",
		ExecuteCmd: "python3 main.py",
	},
	{
		Key:        "go",
		WireID:     5,
		Display:    "Go",
		SourceFile: "main.go",
		CompileCmd: "go build -o main main.go",
		ExecuteCmd: "./main",
	},
}

// Languages returns a copy of the descriptor table.
func Languages() []Language {
	out := make([]Language, len(languageTable))
	copy(out, languageTable)
	return out
}

// LookupLanguage resolves an internal language key.
func LookupLanguage(key string) (Language, bool) {
	for _, lang := range languageTable {
		if lang.Key == key {
			return lang, true
		}
	}
	return Language{}, false
}

// WireLanguages renders the descriptor table as the message pushed to every
// newly connected worker.
func WireLanguages() []model.WireLanguage {
	out := make([]model.WireLanguage, 0, len(languageTable))
	for _, lang := range languageTable {
		out = append(out, model.WireLanguage{
			ID:                 lang.WireID,
			Name:               lang.Display,
			SourceFile:         lang.SourceFile,
			CompileCmd:         lang.CompileCmd,
			ExecuteCmd:         lang.ExecuteCmd,
			CompileTimeLimitMS: lang.CompileTimeLimitMS,
			CompileMemoryKB:    lang.CompileMemoryKB,
		})
	}
	return out
}
