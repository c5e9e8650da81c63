package virtual

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/Skryldev/fprint/core"
	apperrors "github.com/Skryldev/fprint/errors"
)

// EnvImageSocket names the unix socket a virtual image reader listens on.
const EnvImageSocket = "FP_VIRTUAL_IMAGE"

// Control values sent in place of a width.
const (
	msgFinger = -1 // height: 0 lifted, 1 placed
	msgRetry  = -2 // height: errors.RetryCode
	msgError  = -3 // height: errors.DeviceErrorCode
)

// Listen opens a unix socket at path, replacing a stale socket file.
func Listen(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, apperrors.Wrap(apperrors.CategoryDevice, "virtual.listen", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDevice, "virtual.listen", err)
	}
	return ln, nil
}

// Serve feeds the reader from connections accepted on ln until ctx is
// done or ln fails. Every message starts with two little endian int32
// values, width and height, followed by width*height greyscale bytes. A
// negative width is a control message, see msgFinger and friends. A frame
// larger than ImageOptions.MaxFrameBytes closes the connection.
func (v *Image) Serve(ctx context.Context, ln net.Listener, logger core.Logger) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return apperrors.Wrap(apperrors.CategoryDevice, "virtual.serve", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			stopConn := context.AfterFunc(ctx, func() { conn.Close() })
			defer stopConn()
			if err := v.handleConn(conn); err != nil && logger != nil {
				logger.Warn("virtual.conn.failed", "error", err.Error())
			}
		}()
	}
}

func (v *Image) handleConn(r io.Reader) error {
	limit := v.opts.MaxFrameBytes
	if limit <= 0 {
		limit = DefaultMaxFrameBytes
	}
	var hdr [2]int32
	for {
		if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		w, h := hdr[0], hdr[1]
		switch {
		case w == msgFinger:
			if err := v.SetFinger(h != 0); err != nil {
				return err
			}
		case w == msgRetry:
			if err := v.Retry(apperrors.RetryCode(h)); err != nil {
				return err
			}
		case w == msgError:
			if err := v.Fail(apperrors.NewDevice(apperrors.DeviceErrorCode(h))); err != nil {
				return err
			}
		case w > 0 && h > 0 && w <= core.MaxDimension && h <= core.MaxDimension:
			if int64(w)*int64(h) > limit {
				return apperrors.New(apperrors.CategoryInput, "virtual.frame",
					fmt.Errorf("%w: %dx%d frame exceeds %d bytes", apperrors.ErrInvalidDimensions, w, h, limit))
			}
			data := make([]byte, int(w)*int(h))
			if _, err := io.ReadFull(r, data); err != nil {
				return err
			}
			img, err := core.NewImageFromData(int(w), int(h), data)
			if err != nil {
				return err
			}
			if err := v.SendImage(img); err != nil {
				return err
			}
		default:
			return fmt.Errorf("invalid message header %dx%d", w, h)
		}
	}
}
