// ABOUTME: Sample-level processing for the playback pipeline
// ABOUTME: Conversion, volume, mixing and silence
// Package pcm holds the sample-level processing stages of the pipeline:
// format conversion (sample format, channels, rate), software volume, mixing
// for cross-fades and silence generation.
//
// All integer stages work on signed 24 bit samples in int32 to keep headroom.
// DSD data can be carried but not processed: conversion and mixing return
// ErrUnsupportedFormat and volume is a pass-through.
package pcm
