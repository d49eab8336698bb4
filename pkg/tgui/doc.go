// Package tgui holds small helpers for Telegram HTML parse mode: escaping,
// inline tags, links and rune-safe truncation.
package tgui
