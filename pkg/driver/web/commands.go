package web

import (
	"context"
)

// Navigate loads url in the current tab.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	_, err := d.Post(ctx, "/url", map[string]string{"url": url})
	return err
}

// CurrentURL returns the address of the current page.
func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	resp, err := d.Get(ctx, "/url")
	if err != nil {
		return "", err
	}
	return resp.String(), nil
}

// Title returns the document title.
func (d *Driver) Title(ctx context.Context) (string, error) {
	resp, err := d.Get(ctx, "/title")
	if err != nil {
		return "", err
	}
	return resp.String(), nil
}

// ExecuteScript runs a synchronous script and returns its decoded result.
func (d *Driver) ExecuteScript(ctx context.Context, script string, args ...interface{}) (interface{}, error) {
	if args == nil {
		args = []interface{}{}
	}
	resp, err := d.Post(ctx, "/execute/sync", map[string]interface{}{
		"script": script,
		"args":   args,
	})
	if err != nil {
		return nil, err
	}
	return resp.Value().Value(), nil
}

func (d *Driver) Back(ctx context.Context) error {
	_, err := d.Post(ctx, "/back", nil)
	return err
}

func (d *Driver) Forward(ctx context.Context) error {
	_, err := d.Post(ctx, "/forward", nil)
	return err
}

func (d *Driver) Refresh(ctx context.Context) error {
	_, err := d.Post(ctx, "/refresh", nil)
	return err
}
