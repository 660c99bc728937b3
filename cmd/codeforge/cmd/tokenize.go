package cmd

import "github.com/forgeware/codeforge/internal/indexer"

func tokenizeForLoad(text string) []string { return indexer.Tokenize(text) }
