// Package parser implements the Parser capability contract: turning raw
// Markdown bytes into a blocks.ParsedNote. See DefaultParser for the
// reference line-oriented implementation.
package parser
