// Package tgui holds small helpers for building Telegram HTML captions.
package tgui
