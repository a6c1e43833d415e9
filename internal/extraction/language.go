package extraction

import (
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Language identifies a supported grammar.
type Language string

const (
	LangUnknown    Language = ""
	LangGo         Language = "go"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangTSX        Language = "tsx"
	LangPython     Language = "python"
)

var languageByExt = map[string]Language{
	".go":  LangGo,
	".js":  LangJavaScript,
	".jsx": LangJavaScript,
	".mjs": LangJavaScript,
	".cjs": LangJavaScript,
	".ts":  LangTypeScript,
	".mts": LangTypeScript,
	".cts": LangTypeScript,
	".tsx": LangTSX,
	".py":  LangPython,
	".pyi": LangPython,
}

// LanguageFromPath returns the language for a file extension, or LangUnknown.
func LanguageFromPath(path string) Language {
	return languageByExt[strings.ToLower(filepath.Ext(path))]
}

// SupportedExtensions lists the extensions the engine can parse.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(languageByExt))
	for ext := range languageByExt {
		exts = append(exts, ext)
	}
	return exts
}

func (l Language) grammar() *sitter.Language {
	switch l {
	case LangGo:
		return golang.GetLanguage()
	case LangJavaScript:
		return javascript.GetLanguage()
	case LangTypeScript:
		return typescript.GetLanguage()
	case LangTSX:
		return tsx.GetLanguage()
	case LangPython:
		return python.GetLanguage()
	default:
		return nil
	}
}

func (l Language) isJS() bool {
	return l == LangJavaScript || l == LangTypeScript || l == LangTSX
}
