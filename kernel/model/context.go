package model

type Context struct {
	Model  *TargetModel
	Config *Config
}

func NewContext(m *TargetModel, c *Config) *Context {
	if c == nil {
		c = DefaultConfig()
	}
	return &Context{
		Model:  m,
		Config: c,
	}
}

func (c *Context) GetModel() *TargetModel {
	return c.Model
}

func (c *Context) GetConfig() *Config {
	return c.Config
}

func (c *Context) WithModel(m *TargetModel) *Context {
	return &Context{Model: m, Config: c.Config}
}
