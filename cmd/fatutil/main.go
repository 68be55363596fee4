// Command fatutil is a thin inspection tool for mounted FAT images, grounded
// on the teacher's cmd/main.go cli.App/cli.Command shape.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/kvemit/fatfs/blockdev"
	"github.com/kvemit/fatfs/fatfs"
	"github.com/kvemit/fatfs/media"
	"github.com/kvemit/fatfs/volume"
)

func main() {
	app := cli.App{
		Usage: "Inspect and manipulate FAT12/16/32 disk images",
		Commands: []*cli.Command{
			{
				Name:      "ls",
				Usage:     "List a directory's entries",
				ArgsUsage: "IMAGE [PATH]",
				Action:    lsCommand,
			},
			{
				Name:      "cat",
				Usage:     "Print a file's contents to stdout",
				ArgsUsage: "IMAGE PATH",
				Action:    catCommand,
			},
			{
				Name:      "stat",
				Usage:     "Print a file or directory's metadata",
				ArgsUsage: "IMAGE PATH",
				Action:    statCommand,
			},
			{
				Name:      "media",
				Usage:     "Print the volume's label and free space",
				ArgsUsage: "IMAGE",
				Action:    mediaCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func openImage(path string, readOnly bool) (*fatfs.FS, *os.File, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	const sectorSize = 512
	dev := blockdev.NewFileDevice(f, sectorSize, uint64(info.Size())/sectorSize, 0, readOnly)

	opts := volume.DefaultOptions()
	opts.ReadOnly = readOnly
	fs, err := fatfs.Mount(dev, opts)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return fs, f, nil
}

func lsCommand(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return cli.Exit("usage: fatutil ls IMAGE [PATH]", 1)
	}
	path := "/"
	if c.Args().Len() >= 2 {
		path = c.Args().Get(1)
	}

	fs, f, err := openImage(c.Args().First(), true)
	if err != nil {
		return err
	}
	defer f.Close()

	dir, err := fs.OpenDir(path)
	if err != nil {
		return err
	}
	entries, err := dir.ReadDir(0)
	if err != nil {
		return err
	}
	for _, e := range entries {
		kind := "-"
		if e.IsDir {
			kind = "d"
		}
		fmt.Printf("%s %10d %s\n", kind, e.Size, e.Name)
	}
	return nil
}

func catCommand(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return cli.Exit("usage: fatutil cat IMAGE PATH", 1)
	}

	fs, f, err := openImage(c.Args().First(), true)
	if err != nil {
		return err
	}
	defer f.Close()

	file, err := fs.Open(c.Args().Get(1), fatfs.Read)
	if err != nil {
		return err
	}
	defer file.Close()

	buf := make([]byte, 4096)
	for {
		n, rerr := file.Read(buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
		}
		if rerr != nil {
			break
		}
	}
	return nil
}

func statCommand(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return cli.Exit("usage: fatutil stat IMAGE PATH", 1)
	}

	fs, f, err := openImage(c.Args().First(), true)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := fs.Stat(c.Args().Get(1))
	if err != nil {
		return err
	}
	fmt.Printf("name:       %s\n", st.Name)
	fmt.Printf("short name: %s\n", st.ShortName)
	fmt.Printf("size:       %d\n", st.Size)
	fmt.Printf("directory:  %v\n", st.IsDir)
	fmt.Printf("read-only:  %v\n", st.ReadOnly)
	fmt.Printf("hidden:     %v\n", st.Hidden)
	fmt.Printf("modified:   %s\n", st.ModTime)
	return nil
}

func mediaCommand(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return cli.Exit("usage: fatutil media IMAGE", 1)
	}

	fs, f, err := openImage(c.Args().First(), true)
	if err != nil {
		return err
	}
	defer f.Close()

	stat, err := fs.GetFree()
	if err != nil {
		return err
	}
	label, err := fs.Label()
	if err != nil {
		return err
	}
	fmt.Printf("label:          %q\n", label)
	fmt.Printf("variant:        FAT%d\n", stat.Variant)
	fmt.Printf("total clusters: %d\n", stat.TotalClusters)
	fmt.Printf("free clusters:  %d\n", stat.FreeClusters)
	fmt.Printf("cluster size:   %d bytes\n", stat.ClusterBytes)
	fmt.Printf("media byte:     0x%02X (fixed disk: %v)\n", stat.Media, media.IsFixedDisk(stat.Media))
	for _, g := range fs.MediaGeometries() {
		fmt.Printf("  candidate geometry: %s (%s, %d KiB, %d heads, %d tracks)\n",
			g.Name, g.FormFactor, g.CapacityKiB, g.Heads, g.Tracks)
	}
	return nil
}
